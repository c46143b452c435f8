package diffmodel

import (
	"fmt"
	"sort"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// FileLineMap is the per-file query structure the resolver consults:
// the union of a file's hunk line sets, split into added/context.
type FileLineMap struct {
	AllLines     map[int]struct{}
	AddedLines   map[int]struct{}
	ContextLines map[int]struct{}
	sortedAll    []int
	IsDeleted    bool
}

func newFileLineMap(df models.DiffFile) FileLineMap {
	m := FileLineMap{
		AllLines:     map[int]struct{}{},
		AddedLines:   map[int]struct{}{},
		ContextLines: map[int]struct{}{},
		IsDeleted:    df.Status == models.StatusDeleted,
	}
	for _, h := range df.Hunks {
		for _, l := range h.AddedLines {
			m.AllLines[l] = struct{}{}
			m.AddedLines[l] = struct{}{}
		}
		for _, l := range h.ContextLines {
			m.AllLines[l] = struct{}{}
			m.ContextLines[l] = struct{}{}
		}
	}
	m.sortedAll = make([]int, 0, len(m.AllLines))
	for l := range m.AllLines {
		m.sortedAll = append(m.sortedAll, l)
	}
	sort.Ints(m.sortedAll)
	return m
}

// LineResolver validates agent-reported (path, line) pairs against a
// frozen diff. Build once per run via NewLineResolver; every method is a
// pure, synchronous query.
type LineResolver struct {
	files           map[models.CanonicalPath]FileLineMap
	deletedFiles    map[models.CanonicalPath]struct{}
	renameOldToNew  map[models.CanonicalPath][]models.CanonicalPath // old -> all news that claimed it
	ambiguousOld    map[models.CanonicalPath]struct{}
	ambiguousNew    map[models.CanonicalPath]struct{}
	unambiguousNew  map[models.CanonicalPath]models.CanonicalPath // old -> new, only when exactly one claimant
}

// NewLineResolver builds the resolver's internal indices from a frozen set
// of DiffFiles. Binary and deleted-without-content files are excluded from
// the line-map index entirely, per the diff model's failure modes, but
// deleted files are still tracked so validateLine can apply the
// deleted-file downgrade.
func NewLineResolver(files []models.DiffFile) *LineResolver {
	r := &LineResolver{
		files:          map[models.CanonicalPath]FileLineMap{},
		deletedFiles:   map[models.CanonicalPath]struct{}{},
		renameOldToNew: map[models.CanonicalPath][]models.CanonicalPath{},
		ambiguousOld:   map[models.CanonicalPath]struct{}{},
		ambiguousNew:   map[models.CanonicalPath]struct{}{},
		unambiguousNew: map[models.CanonicalPath]models.CanonicalPath{},
	}

	for _, df := range files {
		if df.Status == models.StatusDeleted {
			r.deletedFiles[df.Path] = struct{}{}
			continue
		}
		if df.IsBinary {
			continue
		}
		r.files[df.Path] = newFileLineMap(df)
		if df.Status == models.StatusRenamed && df.OldPath != "" {
			r.renameOldToNew[df.OldPath] = append(r.renameOldToNew[df.OldPath], df.Path)
		}
	}

	for old, news := range r.renameOldToNew {
		distinct := map[models.CanonicalPath]struct{}{}
		for _, n := range news {
			distinct[n] = struct{}{}
		}
		if len(distinct) > 1 {
			r.ambiguousOld[old] = struct{}{}
			for n := range distinct {
				r.ambiguousNew[n] = struct{}{}
			}
			continue
		}
		for n := range distinct {
			r.unambiguousNew[old] = n
		}
	}
	return r
}

// HasFile reports whether path has a (non-binary, non-deleted) entry in
// the resolver's file map.
func (r *LineResolver) HasFile(path models.CanonicalPath) bool {
	_, ok := r.files[path]
	return ok
}

// IsAmbiguousRename reports whether path (as an old-path) is the source of
// two or more distinct new-paths in the diff.
func (r *LineResolver) IsAmbiguousRename(path models.CanonicalPath) bool {
	_, ok := r.ambiguousOld[path]
	return ok
}

// RemapPath is the identity function unless path is an unambiguous
// old-path, in which case it returns the single new-path that claimed it.
func (r *LineResolver) RemapPath(path models.CanonicalPath) models.CanonicalPath {
	if newPath, ok := r.unambiguousNew[path]; ok {
		return newPath
	}
	return path
}

// GetFileSummary renders a short human-readable description of a file's
// diff shape, for inclusion in diagnostic output.
func (r *LineResolver) GetFileSummary(path models.CanonicalPath) string {
	if _, deleted := r.deletedFiles[path]; deleted {
		return fmt.Sprintf("%s: deleted", path)
	}
	m, ok := r.files[path]
	if !ok {
		return fmt.Sprintf("%s: not in diff", path)
	}
	return fmt.Sprintf("%s: %d added, %d context line(s)", path, len(m.AddedLines), len(m.ContextLines))
}

// ValidationOptions controls optional ValidateLine behavior.
type ValidationOptions struct {
	AdditionsOnly bool
	SuggestNearest bool
}

// ValidationResult is the outcome of ValidateLine.
type ValidationResult struct {
	Valid            bool
	Line             *int
	IsAddition       bool
	Reason           string
	NearestValidLine *int
	// ResolvedPath is the (possibly remapped) path the validation actually
	// ran against; callers should use it, not their original input, when
	// writing the line back onto a Finding.
	ResolvedPath models.CanonicalPath
}

// ValidateLine implements the 8-step validation precedence: undefined
// line, non-positive line, file absence (with deleted-file downgrade),
// ambiguous rename, unambiguous rename remap + re-validate, line not in
// diff context, additions-only violation, else valid.
func (r *LineResolver) ValidateLine(path models.CanonicalPath, line *int, opts ValidationOptions) ValidationResult {
	// Step 1: undefined line is always a valid file-level finding.
	if line == nil {
		return ValidationResult{Valid: true, ResolvedPath: path}
	}

	// Step 2: non-positive line is always invalid, regardless of file.
	if *line <= 0 {
		return ValidationResult{Valid: false, Reason: "must be positive", ResolvedPath: path}
	}

	// Step 3: file not in resolver.
	if !r.HasFile(path) {
		if _, deleted := r.deletedFiles[path]; deleted {
			return ValidationResult{Valid: false, Reason: "deleted-file", ResolvedPath: path}
		}

		// Step 4: ambiguous old-path — keep original path, clear line.
		if r.IsAmbiguousRename(path) {
			return ValidationResult{Valid: false, Reason: "ambiguous-rename", ResolvedPath: path}
		}

		// Step 5: unambiguous old-path — remap and re-validate from step 1.
		if newPath, ok := r.unambiguousNew[path]; ok {
			return r.ValidateLine(newPath, line, opts)
		}

		return ValidationResult{Valid: false, Reason: "not found in diff", ResolvedPath: path}
	}

	m := r.files[path]

	// Step 6: line not addressable in this file.
	if _, ok := m.AllLines[*line]; !ok {
		res := ValidationResult{Valid: false, Reason: "not in the diff context", ResolvedPath: path}
		if opts.SuggestNearest {
			res.NearestValidLine = nearestLine(m.sortedAll, *line)
		}
		return res
	}

	_, isAdded := m.AddedLines[*line]

	// Step 7: additions-only requested but line is a context line.
	if opts.AdditionsOnly && !isAdded {
		return ValidationResult{Valid: false, Reason: "not an added line", ResolvedPath: path}
	}

	// Step 8: valid.
	l := *line
	return ValidationResult{Valid: true, Line: &l, IsAddition: isAdded, ResolvedPath: path}
}

// nearestLine returns the numerically closest entry in sorted (already
// sorted ascending) to target, breaking ties toward the smaller line
// number. sorted must be non-empty for a meaningful result; an empty slice
// returns nil.
func nearestLine(sorted []int, target int) *int {
	if len(sorted) == 0 {
		return nil
	}
	idx := sort.SearchInts(sorted, target)
	candidates := make([]int, 0, 2)
	if idx < len(sorted) {
		candidates = append(candidates, sorted[idx])
	}
	if idx > 0 {
		candidates = append(candidates, sorted[idx-1])
	}
	best := candidates[0]
	bestDist := abs(best - target)
	for _, c := range candidates[1:] {
		d := abs(c - target)
		if d < bestDist || (d == bestDist && c < best) {
			best, bestDist = c, d
		}
	}
	return &best
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// NormalizationStats is the aggregate outcome of NormalizeFindingsForDiff.
type NormalizationStats struct {
	Total            int
	Valid            int
	Normalized       int // auto-fixed (snapped to nearest line)
	Downgraded       int // line cleared (deleted file or ambiguous rename)
	Dropped          int // finding removed entirely
	DeletedFiles     int
	AmbiguousRenames int
	RemappedPaths    int
}

// InvalidDetail records one finding that failed validation, for drift
// reporting.
type InvalidDetail struct {
	File   models.CanonicalPath
	Line   *int
	Reason string
}

// NormalizeOptions controls NormalizeFindingsForDiff.
type NormalizeOptions struct {
	AutoFix bool
}

// NormalizeFindingsForDiff runs every finding's (file, line) through
// ValidateLine, applying the remap/downgrade/drop policy, and returns the
// retained findings alongside aggregate stats and a bounded invalid-detail
// sample.
func (r *LineResolver) NormalizeFindingsForDiff(findings []models.Finding, opts NormalizeOptions) (kept []models.Finding, stats NormalizationStats, invalidDetails []InvalidDetail) {
	const maxInvalidSamples = 5

	for _, f := range findings {
		stats.Total++
		origPath := f.File
		res := r.ValidateLine(f.File, f.Line, ValidationOptions{SuggestNearest: opts.AutoFix})

		switch {
		case res.Valid && f.Line == nil:
			stats.Valid++
			kept = append(kept, f)

		case res.Valid:
			stats.Valid++
			if res.ResolvedPath != origPath {
				stats.RemappedPaths++
				f.File = res.ResolvedPath
			}
			l := *res.Line
			f.Line = &l
			kept = append(kept, f)

		case res.Reason == "deleted-file":
			stats.Downgraded++
			stats.DeletedFiles++
			f.Line = nil
			kept = append(kept, f)
			invalidDetails = appendInvalidDetail(invalidDetails, maxInvalidSamples, InvalidDetail{File: f.File, Line: f.Line, Reason: res.Reason})

		case res.Reason == "ambiguous-rename":
			stats.Downgraded++
			stats.AmbiguousRenames++
			f.Line = nil
			kept = append(kept, f)
			invalidDetails = appendInvalidDetail(invalidDetails, maxInvalidSamples, InvalidDetail{File: f.File, Line: f.Line, Reason: res.Reason})

		case res.Reason == "not in the diff context" && opts.AutoFix && res.NearestValidLine != nil:
			stats.Normalized++
			if res.ResolvedPath != origPath {
				stats.RemappedPaths++
				f.File = res.ResolvedPath
			}
			nl := *res.NearestValidLine
			f.Line = &nl
			kept = append(kept, f)

		default:
			stats.Dropped++
			detail := InvalidDetail{File: origPath, Line: f.Line, Reason: res.Reason}
			if detail.Reason == "" {
				detail.Reason = "not found in diff"
			}
			invalidDetails = appendInvalidDetail(invalidDetails, maxInvalidSamples, detail)
		}
	}
	return kept, stats, invalidDetails
}

func appendInvalidDetail(details []InvalidDetail, max int, d InvalidDetail) []InvalidDetail {
	if len(details) >= max {
		return details
	}
	return append(details, d)
}

// DriftLevel is the overall health signal computed from NormalizationStats.
type DriftLevel string

const (
	DriftOK   DriftLevel = "ok"
	DriftWarn DriftLevel = "warn"
	DriftFail DriftLevel = "fail"
)

// DriftThresholds configures the warn/fail percentage boundaries for
// DriftSignal. Zero-value DriftThresholds is invalid; use
// DefaultDriftThresholds.
type DriftThresholds struct {
	WarnPercent float64
	FailPercent float64
}

// DefaultDriftThresholds returns the stock warn/fail percentages.
func DefaultDriftThresholds() DriftThresholds {
	return DriftThresholds{WarnPercent: 20, FailPercent: 50}
}

// DriftSignal computes the degradation/auto-fix percentages and resulting
// level from a NormalizationStats value.
func DriftSignal(stats NormalizationStats, thresholds DriftThresholds) (level DriftLevel, degradationPercent, autoFixPercent float64) {
	if stats.Total == 0 {
		return DriftOK, 0, 0
	}
	degradationPercent = float64(stats.Downgraded+stats.Dropped) / float64(stats.Total) * 100
	autoFixPercent = float64(stats.Normalized) / float64(stats.Total) * 100

	switch {
	case degradationPercent >= thresholds.FailPercent:
		level = DriftFail
	case degradationPercent >= thresholds.WarnPercent:
		level = DriftWarn
	default:
		level = DriftOK
	}
	return level, degradationPercent, autoFixPercent
}
