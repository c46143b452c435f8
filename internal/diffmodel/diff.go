// Package diffmodel parses unified-diff output into the canonicalized,
// queryable structure the rest of the review engine depends on: DiffFiles
// with line-number sets, and a LineResolver that validates agent-reported
// locations against them.
//
// The parser is deliberately tolerant: a malformed record or hunk never
// aborts a whole review, it just contributes nothing and is counted.
package diffmodel

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// hunkHeaderRe matches both the normal `@@ -X,Y +A,B @@` form and the
// single-line `@@ -X +Y @@` form, where a missing count means 1.
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// MalformedSample records one numstat or hunk record the parser could not
// make sense of, for diagnostic reporting. Up to 5 are retained per run.
type MalformedSample struct {
	Raw    string
	Reason string
}

const maxMalformedSamples = 5

// ParseResult is the output of parsing a full diff: the per-file diff
// entries plus bookkeeping on anything the parser had to skip.
type ParseResult struct {
	Files            []models.DiffFile
	MalformedCount   int
	MalformedSamples []MalformedSample
}

func (r *ParseResult) recordMalformed(raw, reason string) {
	r.MalformedCount++
	if len(r.MalformedSamples) < maxMalformedSamples {
		r.MalformedSamples = append(r.MalformedSamples, MalformedSample{Raw: raw, Reason: reason})
	}
}

// NumstatRecord is one pre-parsed `git diff --numstat -z` record, already
// split by the NUL delimiter the caller used to tokenize raw --numstat -z
// output. ParseNumstat consumes these rather than raw bytes so tests can
// build records directly without round-tripping through NUL splitting.
type NumstatRecord struct {
	Additions string // "-" for binary
	Deletions string // "-" for binary
	Path      string // for a rename record, leave empty and set OldPath/NewPath
	OldPath   string
	NewPath   string
	IsRename  bool
}

// ParseNumstat turns numstat records into DiffFiles with status and
// additions/deletions populated, but no hunks yet (callers set
// DiffFile.Hunks from ParseHunks separately, since numstat and hunk text arrive from
// different hosting-platform endpoints in practice). Canonicalization
// happens here, once, on entry.
func ParseNumstat(records []NumstatRecord) *ParseResult {
	result := &ParseResult{}
	for _, rec := range records {
		isBinary := rec.Additions == "-" && rec.Deletions == "-"

		var additions, deletions uint
		if !isBinary {
			a, errA := strconv.ParseUint(rec.Additions, 10, 64)
			d, errD := strconv.ParseUint(rec.Deletions, 10, 64)
			if errA != nil || errD != nil {
				result.recordMalformed(rec.Additions+"\t"+rec.Deletions, "non-numeric additions/deletions")
				continue
			}
			additions, deletions = uint(a), uint(d)
		}

		df := models.DiffFile{
			Additions: additions,
			Deletions: deletions,
			IsBinary:  isBinary,
		}

		switch {
		case rec.IsRename:
			if rec.OldPath == "" || rec.NewPath == "" {
				result.recordMalformed(rec.OldPath+"->"+rec.NewPath, "rename record missing old or new path")
				continue
			}
			df.Status = models.StatusRenamed
			df.OldPath = models.Canonicalize(rec.OldPath)
			df.Path = models.Canonicalize(rec.NewPath)
		case rec.Path == "":
			result.recordMalformed(rec.Path, "empty path")
			continue
		default:
			df.Path = models.Canonicalize(rec.Path)
			df.Status = models.StatusModified
		}

		result.Files = append(result.Files, df)
	}
	return result
}

// MarkStatus lets callers (e.g. the GitHub files-API adapter,
// which reports status directly rather than via numstat) override the
// status ParseNumstat defaulted to "modified".
func MarkStatus(files []models.DiffFile, path models.CanonicalPath, status models.FileStatus) {
	for i := range files {
		if files[i].Path == path {
			files[i].Status = status
		}
	}
}

// ParseHunks parses the hunk portion of a single file's unified-diff patch
// text (everything from the first "@@" onward, or a full patch — any
// pre-"@@" metadata lines are skipped) into Hunks with addedLines and
// contextLines line-number sets.
//
// A blank patch yields an empty hunk list, not an error.
func ParseHunks(patch string) []models.Hunk {
	if strings.TrimSpace(patch) == "" {
		return nil
	}

	lines := strings.Split(patch, "\n")
	var hunks []models.Hunk
	var cur *models.Hunk
	newLine := 0

	flush := func() {
		if cur == nil {
			return
		}
		cur.NewFileLines = append(append([]int{}, cur.AddedLines...), cur.ContextLines...)
		sort.Ints(cur.NewFileLines)
		hunks = append(hunks, *cur)
		cur = nil
	}

	for _, line := range lines {
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			oldStart, _ := strconv.Atoi(m[1])
			oldCount := 1
			if m[2] != "" {
				oldCount, _ = strconv.Atoi(m[2])
			}
			newStart, _ := strconv.Atoi(m[3])
			newCount := 1
			if m[4] != "" {
				newCount, _ = strconv.Atoi(m[4])
			}
			cur = &models.Hunk{OldStart: oldStart, OldCount: oldCount, NewStart: newStart, NewCount: newCount}
			newLine = newStart
			continue
		}
		if cur == nil {
			// metadata line before the first hunk header (e.g. "index..",
			// "--- a/file", "+++ b/file"); not part of any hunk.
			continue
		}
		if strings.HasPrefix(line, "\\ No newline at end of file") {
			continue
		}
		if line == "" && newLine >= cur.NewStart+cur.NewCount {
			// past the hunk's declared new-side range: the patch text's
			// trailing newline, not a blank context line.
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			cur.AddedLines = append(cur.AddedLines, newLine)
			newLine++
		case strings.HasPrefix(line, "-"):
			// old-side line; does not advance the new-file cursor.
		case strings.HasPrefix(line, " ") || line == "":
			cur.ContextLines = append(cur.ContextLines, newLine)
			newLine++
		default:
			// Unrecognized prefix inside a hunk body; tolerate it as
			// though it were context so a stray line never aborts parsing.
			cur.ContextLines = append(cur.ContextLines, newLine)
			newLine++
		}
	}
	flush()
	return hunks
}
