package pathfilter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyFileIsNoOp(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, f.Allowed("src/a.go"))
}

func TestAllowed_NilFilterAllowsEverything(t *testing.T) {
	var f *Filter
	assert.True(t, f.Allowed("anything.go"))
}

func TestAllowed_UnanchoredPatternMatchesAnyDirectory(t *testing.T) {
	f, err := Parse(strings.NewReader("*.generated.go\n"))
	require.NoError(t, err)
	assert.False(t, f.Allowed("pkg/sub/foo.generated.go"))
	assert.True(t, f.Allowed("pkg/sub/foo.go"))
}

func TestAllowed_AnchoredPatternMatchesOnlyFromRoot(t *testing.T) {
	f, err := Parse(strings.NewReader("/vendor\n"))
	require.NoError(t, err)
	assert.False(t, f.Allowed("vendor/lib.go"))
	assert.True(t, f.Allowed("pkg/vendor/lib.go"))
}

func TestAllowed_DirOnlyPatternMatchesDirectoryPrefix(t *testing.T) {
	f, err := Parse(strings.NewReader("/dist/\n"))
	require.NoError(t, err)
	assert.False(t, f.Allowed("dist/bundle.js"))
	assert.False(t, f.Allowed("dist/assets/bundle.js"))
	assert.True(t, f.Allowed("src/dist.go"))
}

func TestAllowed_NegationOverridesEarlierIgnore(t *testing.T) {
	f, err := Parse(strings.NewReader("*.md\n!README.md\n"))
	require.NoError(t, err)
	assert.False(t, f.Allowed("docs/CHANGES.md"))
	assert.True(t, f.Allowed("README.md"))
}

func TestAllowed_LaterRuleOverridesEarlierRule(t *testing.T) {
	f, err := Parse(strings.NewReader("!keep.go\nkeep.go\n"))
	require.NoError(t, err)
	assert.False(t, f.Allowed("keep.go"))
}

func TestParse_IgnoresCommentsAndBlankLines(t *testing.T) {
	f, err := Parse(strings.NewReader("# comment\n\n*.log\n"))
	require.NoError(t, err)
	assert.False(t, f.Allowed("out.log"))
	assert.True(t, f.Allowed("out.txt"))
}
