package diffmodel

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthesizeHunk builds a minimal unified-diff hunk body from two versions
// of a file's lines, using diffmatchpatch's line-mode diff (the same
// Diffs-over-lines approach the pack's hercules repos use for churn
// analysis) instead of hand-writing +/- text. It returns the hunk body and
// the added-line count an agent should expect ParseHunks to report.
func synthesizeHunk(oldLines, newLines []string) (body string, wantAdded int) {
	dmp := diffmatchpatch.New()
	oldText, newText := strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n"
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var b2 strings.Builder
	newCount := 0
	for _, d := range diffs {
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				fmt.Fprintf(&b2, "+%s\n", line)
				newCount++
				wantAdded++
			case diffmatchpatch.DiffDelete:
				fmt.Fprintf(&b2, "-%s\n", line)
			case diffmatchpatch.DiffEqual:
				fmt.Fprintf(&b2, " %s\n", line)
				newCount++
			}
		}
	}
	header := fmt.Sprintf("@@ -1,%d +1,%d @@\n", len(oldLines), newCount)
	return header + b2.String(), wantAdded
}

func TestParseHunks_SynthesizedFromLineDiff_AddedLineCountMatches(t *testing.T) {
	oldLines := []string{"func f() {", "	return 1", "}"}
	newLines := []string{"func f() {", "	return 2", "	// note", "}"}

	body, wantAdded := synthesizeHunk(oldLines, newLines)
	hunks := ParseHunks(body)
	require.Len(t, hunks, 1)
	assert.Equal(t, wantAdded, len(hunks[0].AddedLines))
	assert.Equal(t, len(oldLines), hunks[0].OldCount)
}

func TestParseHunks_SynthesizedPureInsertion(t *testing.T) {
	oldLines := []string{"package main"}
	newLines := []string{"package main", "", "func main() {}"}

	body, wantAdded := synthesizeHunk(oldLines, newLines)
	hunks := ParseHunks(body)
	require.Len(t, hunks, 1)
	assert.Equal(t, wantAdded, len(hunks[0].AddedLines))
	assert.Equal(t, 2, wantAdded)
}
