// Package dedup implements the deterministic finding sort, intra-run
// dedup by DedupeKey, and the cross-run proximity dedup/stale-detection
// rules described in the review engine's finding-normalizer component.
package dedup

import (
	"sort"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// LineProximityThreshold is the inclusive line-distance boundary for
// cross-run proximity dedup: a new finding within this many lines of an
// existing open comment with the same fingerprint+file is a duplicate.
const LineProximityThreshold = 20

// Sort orders findings deterministically: severity (error < warning <
// info), then file lexicographically, then line ascending with undefined
// lines sorting after defined ones. The sort is stable so ties beyond
// these keys preserve input order.
func Sort(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if ra, rb := models.SeverityRank(a.Severity), models.SeverityRank(b.Severity); ra != rb {
			return ra < rb
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if (a.Line == nil) != (b.Line == nil) {
			return a.Line != nil // defined line sorts before undefined
		}
		if a.Line == nil {
			return false
		}
		return *a.Line < *b.Line
	})
}

// Dedup performs intra-run dedup over a findings list: at most one finding
// survives per unique DedupeKey, with the first occurrence (by the
// deterministic sort order) kept. Callers are expected to have sorted
// findings first so "first occurrence" is meaningful and reproducible;
// Dedup itself does not re-sort.
func Dedup(findings []models.Finding) []models.Finding {
	seen := make(map[string]struct{}, len(findings))
	out := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		key := models.DedupeKey(f.Fingerprint, f.File, f.Line)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// OpenComment is the subset of prior-comment state the proximity dedup
// needs: its DedupeKeys decomposed back into (fingerprint, file, line).
type OpenComment struct {
	Fingerprint string
	File        models.CanonicalPath
	Line        int // 0 means file-level
}

// ProximityResult classifies one new finding against the set of currently
// open platform comments.
type ProximityResult struct {
	Finding   models.Finding
	IsNew     bool
	MatchedOn *OpenComment // nil when IsNew
}

// ProximityDedup classifies each (already intra-run-deduped) finding
// against the existing open-comment keys: exact DedupeKey match is always
// a duplicate; otherwise a same-fingerprint-and-file comment within
// LineProximityThreshold lines (inclusive) is a duplicate; everything else
// is new. New findings are not mutated into the open set automatically —
// callers append the returned new findings' keys themselves, since posting
// can still fail after this classification.
func ProximityDedup(findings []models.Finding, existingKeys map[string]struct{}, open []OpenComment) []ProximityResult {
	results := make([]ProximityResult, 0, len(findings))
	for _, f := range findings {
		line := 0
		if f.Line != nil {
			line = *f.Line
		}
		key := models.DedupeKey(f.Fingerprint, f.File, f.Line)

		if _, exact := existingKeys[key]; exact {
			results = append(results, ProximityResult{Finding: f, IsNew: false})
			continue
		}

		var matched *OpenComment
		for i := range open {
			c := open[i]
			if c.Fingerprint != f.Fingerprint || c.File != f.File {
				continue
			}
			if abs(c.Line-line) <= LineProximityThreshold {
				matched = &open[i]
				break
			}
		}
		if matched != nil {
			results = append(results, ProximityResult{Finding: f, IsNew: false, MatchedOn: matched})
			continue
		}
		results = append(results, ProximityResult{Finding: f, IsNew: true})
	}
	return results
}

// IsStale reports whether a prior comment's (fingerprint, file, line) has
// no matching current finding under the proximity rule — i.e. either no
// current finding shares its fingerprint+file, or every such finding is
// strictly more than LineProximityThreshold lines away.
func IsStale(prior OpenComment, current []models.Finding) bool {
	for _, f := range current {
		if f.Fingerprint != prior.Fingerprint || f.File != prior.File {
			continue
		}
		line := 0
		if f.Line != nil {
			line = *f.Line
		}
		if abs(prior.Line-line) <= LineProximityThreshold {
			return false
		}
	}
	return true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
