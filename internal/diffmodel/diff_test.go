package diffmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

func TestParseNumstat_Modified(t *testing.T) {
	result := ParseNumstat([]NumstatRecord{
		{Additions: "3", Deletions: "1", Path: "pkg/foo.go"},
	})
	require.Len(t, result.Files, 1)
	f := result.Files[0]
	assert.Equal(t, models.CanonicalPath("pkg/foo.go"), f.Path)
	assert.Equal(t, models.StatusModified, f.Status)
	assert.Equal(t, uint(3), f.Additions)
	assert.Equal(t, uint(1), f.Deletions)
	assert.False(t, f.IsBinary)
	assert.Equal(t, 0, result.MalformedCount)
}

func TestParseNumstat_Rename(t *testing.T) {
	result := ParseNumstat([]NumstatRecord{
		{Additions: "0", Deletions: "0", IsRename: true, OldPath: "old/a.go", NewPath: "new/a.go"},
	})
	require.Len(t, result.Files, 1)
	f := result.Files[0]
	assert.Equal(t, models.StatusRenamed, f.Status)
	assert.Equal(t, models.CanonicalPath("old/a.go"), f.OldPath)
	assert.Equal(t, models.CanonicalPath("new/a.go"), f.Path)
}

func TestParseNumstat_Binary(t *testing.T) {
	result := ParseNumstat([]NumstatRecord{
		{Additions: "-", Deletions: "-", Path: "image.png"},
	})
	require.Len(t, result.Files, 1)
	assert.True(t, result.Files[0].IsBinary)
	assert.Equal(t, uint(0), result.Files[0].Additions)
}

func TestParseNumstat_MalformedRecordsAreToleratedAndCapped(t *testing.T) {
	var records []NumstatRecord
	for i := 0; i < 10; i++ {
		records = append(records, NumstatRecord{Additions: "bogus", Deletions: "1", Path: "f.go"})
	}
	records = append(records, NumstatRecord{Additions: "1", Deletions: "1", Path: "ok.go"})

	result := ParseNumstat(records)
	require.Len(t, result.Files, 1, "the one well-formed record still parses")
	assert.Equal(t, 10, result.MalformedCount)
	assert.Len(t, result.MalformedSamples, maxMalformedSamples, "samples are capped even though more were malformed")
}

func TestParseNumstat_RenameMissingPathIsMalformed(t *testing.T) {
	result := ParseNumstat([]NumstatRecord{
		{Additions: "1", Deletions: "0", IsRename: true, OldPath: "old/a.go", NewPath: ""},
	})
	assert.Empty(t, result.Files)
	assert.Equal(t, 1, result.MalformedCount)
}

func TestMarkStatus(t *testing.T) {
	files := []models.DiffFile{{Path: "a.go", Status: models.StatusModified}}
	MarkStatus(files, "a.go", models.StatusAdded)
	assert.Equal(t, models.StatusAdded, files[0].Status)
}

func TestParseHunks_SingleHunkAddedAndContextLines(t *testing.T) {
	patch := "@@ -1,2 +1,3 @@\n context\n+added line\n context again\n"
	hunks := ParseHunks(patch)
	require.Len(t, hunks, 1)
	h := hunks[0]
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 3, h.NewCount)
	assert.Equal(t, []int{2}, h.AddedLines)
	assert.Equal(t, []int{1, 3}, h.ContextLines)
	assert.Equal(t, []int{1, 2, 3}, h.NewFileLines)
}

func TestParseHunks_SingleLineHeaderForm(t *testing.T) {
	patch := "@@ -5 +5 @@\n context\n"
	hunks := ParseHunks(patch)
	require.Len(t, hunks, 1)
	assert.Equal(t, 1, hunks[0].OldCount)
	assert.Equal(t, 1, hunks[0].NewCount)
}

func TestParseHunks_NoNewlineMarkerIgnored(t *testing.T) {
	patch := "@@ -1,1 +1,1 @@\n-old\n+new\n\\ No newline at end of file\n"
	hunks := ParseHunks(patch)
	require.Len(t, hunks, 1)
	assert.Equal(t, []int{1}, hunks[0].AddedLines)
}

func TestParseHunks_MetadataBeforeFirstHunkIsSkipped(t *testing.T) {
	patch := "diff --git a/f.go b/f.go\nindex abc..def 100644\n--- a/f.go\n+++ b/f.go\n@@ -1,1 +1,2 @@\n context\n+added\n"
	hunks := ParseHunks(patch)
	require.Len(t, hunks, 1)
	assert.Equal(t, []int{2}, hunks[0].AddedLines)
}

func TestParseHunks_MultipleHunks(t *testing.T) {
	patch := "@@ -1,1 +1,1 @@\n+a\n@@ -10,1 +12,1 @@\n+b\n"
	hunks := ParseHunks(patch)
	require.Len(t, hunks, 2)
	assert.Equal(t, 1, hunks[0].NewStart)
	assert.Equal(t, 12, hunks[1].NewStart)
}

func TestParseHunks_BlankPatchYieldsNoHunks(t *testing.T) {
	assert.Nil(t, ParseHunks(""))
	assert.Nil(t, ParseHunks("   \n  "))
}
