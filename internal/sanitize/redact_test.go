package sanitize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

func TestRedactBuiltinPatterns_BearerToken(t *testing.T) {
	out := redactBuiltinPatterns("Authorization: Bearer abc123.def-456")
	assert.Equal(t, "Authorization: Bearer [REDACTED]", out)
}

func TestRedactBuiltinPatterns_TokenAssignment(t *testing.T) {
	out := redactBuiltinPatterns(`GITHUB_TOKEN=ghp_abcdefghijklmnop`)
	assert.Equal(t, "GITHUB_TOKEN=[REDACTED]", out)
}

func TestRedactBuiltinPatterns_LeavesUnrelatedTextAlone(t *testing.T) {
	out := redactBuiltinPatterns("just a normal line of code")
	assert.Equal(t, "just a normal line of code", out)
}

func TestRedactDiffForLLM_SortsFilesAlphabetically(t *testing.T) {
	files := map[models.CanonicalPath][]string{
		"zebra.go": {"line1"},
		"alpha.go": {"line1"},
	}
	out, summary := RedactDiffForLLM(files)
	require.Len(t, out, 2)
	assert.Equal(t, models.CanonicalPath("alpha.go"), out[0].Path)
	assert.Equal(t, models.CanonicalPath("zebra.go"), out[1].Path)
	assert.Equal(t, 2, summary.TotalFilesOriginal)
	assert.False(t, summary.TruncatedByFiles)
	assert.False(t, summary.TruncatedByLines)
}

func TestRedactDiffForLLM_CapsAtMaxFiles(t *testing.T) {
	files := map[models.CanonicalPath][]string{}
	for i := 0; i < maxRedactedFiles+5; i++ {
		files[models.CanonicalPath(fmt.Sprintf("f%03d.go", i))] = []string{"x"}
	}
	out, summary := RedactDiffForLLM(files)
	assert.Len(t, out, maxRedactedFiles)
	assert.True(t, summary.TruncatedByFiles)
	assert.Equal(t, maxRedactedFiles+5, summary.TotalFilesOriginal)
}

func TestRedactDiffForLLM_CapsAtMaxLinesAcrossFiles(t *testing.T) {
	bigFile := make([]string, maxRedactedLines+100)
	for i := range bigFile {
		bigFile[i] = "x"
	}
	files := map[models.CanonicalPath][]string{"big.go": bigFile}
	out, summary := RedactDiffForLLM(files)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Lines, maxRedactedLines)
	assert.True(t, summary.TruncatedByLines)
}

func TestRedactDiffForLLM_RedactsSecretsPerLine(t *testing.T) {
	files := map[models.CanonicalPath][]string{
		"config.go": {`API_KEY=supersecretvalue123`, "unrelated line"},
	}
	out, _ := RedactDiffForLLM(files)
	require.Len(t, out, 1)
	assert.Equal(t, "API_KEY=[REDACTED]", out[0].Lines[0])
	assert.Equal(t, "unrelated line", out[0].Lines[1])
}
