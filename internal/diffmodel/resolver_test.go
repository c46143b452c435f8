package diffmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

func intPtr(i int) *int { return &i }

func sampleFiles() []models.DiffFile {
	return []models.DiffFile{
		{
			Path:   "main.go",
			Status: models.StatusModified,
			Hunks: []models.Hunk{
				{NewStart: 10, NewCount: 3, AddedLines: []int{11}, ContextLines: []int{10, 12}, NewFileLines: []int{10, 11, 12}},
			},
		},
		{Path: "gone.go", Status: models.StatusDeleted},
		{Path: "binary.png", Status: models.StatusModified, IsBinary: true},
	}
}

func TestValidateLine_UndefinedLineIsAlwaysValid(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("main.go", nil, ValidationOptions{})
	assert.True(t, res.Valid)
	assert.Nil(t, res.Line)
}

func TestValidateLine_NonPositiveLineIsInvalid(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("main.go", intPtr(0), ValidationOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, "must be positive", res.Reason)

	res = r.ValidateLine("main.go", intPtr(-3), ValidationOptions{})
	assert.False(t, res.Valid)
}

func TestValidateLine_DeletedFileDowngrades(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("gone.go", intPtr(5), ValidationOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, "deleted-file", res.Reason)
}

func TestValidateLine_BinaryFileIsNotInDiff(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("binary.png", intPtr(1), ValidationOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, "not found in diff", res.Reason)
}

func TestValidateLine_AmbiguousRenameClearsLine(t *testing.T) {
	files := []models.DiffFile{
		{Path: "new1.go", OldPath: "old.go", Status: models.StatusRenamed, Hunks: []models.Hunk{{NewFileLines: []int{1}, ContextLines: []int{1}}}},
		{Path: "new2.go", OldPath: "old.go", Status: models.StatusRenamed, Hunks: []models.Hunk{{NewFileLines: []int{1}, ContextLines: []int{1}}}},
	}
	r := NewLineResolver(files)
	assert.True(t, r.IsAmbiguousRename("old.go"))
	res := r.ValidateLine("old.go", intPtr(1), ValidationOptions{})
	assert.False(t, res.Valid)
	assert.Equal(t, "ambiguous-rename", res.Reason)
}

func TestValidateLine_UnambiguousRenameRemapsAndRevalidates(t *testing.T) {
	files := []models.DiffFile{
		{Path: "new.go", OldPath: "old.go", Status: models.StatusRenamed, Hunks: []models.Hunk{
			{NewFileLines: []int{5}, ContextLines: []int{5}},
		}},
	}
	r := NewLineResolver(files)
	assert.Equal(t, models.CanonicalPath("new.go"), r.RemapPath("old.go"))

	res := r.ValidateLine("old.go", intPtr(5), ValidationOptions{})
	assert.True(t, res.Valid)
	assert.Equal(t, models.CanonicalPath("new.go"), res.ResolvedPath)
	require.NotNil(t, res.Line)
	assert.Equal(t, 5, *res.Line)
}

func TestValidateLine_LineNotInContextIsInvalidWithNearestSuggestion(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("main.go", intPtr(20), ValidationOptions{SuggestNearest: true})
	assert.False(t, res.Valid)
	assert.Equal(t, "not in the diff context", res.Reason)
	require.NotNil(t, res.NearestValidLine)
	assert.Equal(t, 12, *res.NearestValidLine)
}

func TestValidateLine_AdditionsOnlyRejectsContextLine(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("main.go", intPtr(10), ValidationOptions{AdditionsOnly: true})
	assert.False(t, res.Valid)
	assert.Equal(t, "not an added line", res.Reason)
}

func TestValidateLine_ValidAddedLine(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	res := r.ValidateLine("main.go", intPtr(11), ValidationOptions{AdditionsOnly: true})
	assert.True(t, res.Valid)
	assert.True(t, res.IsAddition)
}

func TestNearestLine_TiesBreakTowardSmaller(t *testing.T) {
	sorted := []int{8, 12}
	got := nearestLine(sorted, 10)
	require.NotNil(t, got)
	assert.Equal(t, 8, *got)
}

func TestNormalizeFindingsForDiff_AutoFixSnapsToNearest(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	findings := []models.Finding{
		{File: "main.go", Line: intPtr(9), Message: "near but not quite"},
	}
	kept, stats, _ := r.NormalizeFindingsForDiff(findings, NormalizeOptions{AutoFix: true})
	require.Len(t, kept, 1)
	require.NotNil(t, kept[0].Line)
	assert.Equal(t, 10, *kept[0].Line)
	assert.Equal(t, 1, stats.Normalized)
	assert.Equal(t, 0, stats.Dropped)
}

func TestNormalizeFindingsForDiff_AutoFixThroughRenameRemapsPath(t *testing.T) {
	files := []models.DiffFile{
		{Path: "new.go", OldPath: "old.go", Status: models.StatusRenamed, Hunks: []models.Hunk{
			{NewFileLines: []int{5}, ContextLines: []int{5}},
		}},
	}
	r := NewLineResolver(files)
	findings := []models.Finding{
		{File: "old.go", Line: intPtr(7), Message: "reported against the old path and a stale line"},
	}
	kept, stats, _ := r.NormalizeFindingsForDiff(findings, NormalizeOptions{AutoFix: true})
	require.Len(t, kept, 1)
	assert.Equal(t, models.CanonicalPath("new.go"), kept[0].File)
	require.NotNil(t, kept[0].Line)
	assert.Equal(t, 5, *kept[0].Line)
	assert.Equal(t, 1, stats.Normalized)
	assert.Equal(t, 1, stats.RemappedPaths)
}

func TestNormalizeFindingsForDiff_WithoutAutoFixDropsInvalid(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	findings := []models.Finding{
		{File: "main.go", Line: intPtr(999), Message: "way off"},
	}
	kept, stats, invalid := r.NormalizeFindingsForDiff(findings, NormalizeOptions{AutoFix: false})
	assert.Empty(t, kept)
	assert.Equal(t, 1, stats.Dropped)
	require.Len(t, invalid, 1)
	assert.Equal(t, "not in the diff context", invalid[0].Reason)
}

func TestNormalizeFindingsForDiff_DeletedFileDowngradesLineToNil(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	findings := []models.Finding{
		{File: "gone.go", Line: intPtr(3), Message: "on a deleted file"},
	}
	kept, stats, _ := r.NormalizeFindingsForDiff(findings, NormalizeOptions{AutoFix: true})
	require.Len(t, kept, 1)
	assert.Nil(t, kept[0].Line)
	assert.Equal(t, 1, stats.Downgraded)
	assert.Equal(t, 1, stats.DeletedFiles)
}

func TestDriftSignal_Thresholds(t *testing.T) {
	thresholds := DefaultDriftThresholds()

	level, _, _ := DriftSignal(NormalizationStats{Total: 100, Downgraded: 5}, thresholds)
	assert.Equal(t, DriftOK, level)

	level, _, _ = DriftSignal(NormalizationStats{Total: 100, Downgraded: 25}, thresholds)
	assert.Equal(t, DriftWarn, level)

	level, _, _ = DriftSignal(NormalizationStats{Total: 100, Dropped: 60}, thresholds)
	assert.Equal(t, DriftFail, level)
}

func TestDriftSignal_ZeroTotalIsAlwaysOK(t *testing.T) {
	level, degraded, fixed := DriftSignal(NormalizationStats{}, DefaultDriftThresholds())
	assert.Equal(t, DriftOK, level)
	assert.Zero(t, degraded)
	assert.Zero(t, fixed)
}

func TestGetFileSummary(t *testing.T) {
	r := NewLineResolver(sampleFiles())
	assert.Contains(t, r.GetFileSummary("gone.go"), "deleted")
	assert.Contains(t, r.GetFileSummary("missing.go"), "not in diff")
	assert.Contains(t, r.GetFileSummary("main.go"), "1 added")
}
