package reconcile

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
	"github.com/oddessentials/odd-ai-reviewers/internal/report"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "test-run")
}

func TestReconcile_NoMarkersStaysOpenActive(t *testing.T) {
	d := Reconcile(testLogger(), "github", "c1", nil, false, map[string]struct{}{})
	assert.Equal(t, StateOpenActive, d.NextState)
	assert.False(t, d.Resolved)
	assert.False(t, d.PartiallyResolved)
}

func TestReconcile_MalformedMarkerStaysOpenActiveAndWarns(t *testing.T) {
	d := Reconcile(testLogger(), "github", "c1", []string{"fp:a.go:1"}, true, map[string]struct{}{})
	assert.Equal(t, StateOpenActive, d.NextState)
	assert.True(t, d.HasMalformed)
}

func TestReconcile_AllMarkersStaleResolves(t *testing.T) {
	markers := []string{"fp1:a.go:1", "fp2:a.go:2"}
	stale := map[string]struct{}{"fp1:a.go:1": {}, "fp2:a.go:2": {}}
	d := Reconcile(testLogger(), "github", "c1", markers, false, stale)
	assert.Equal(t, StateResolved, d.NextState)
	assert.True(t, d.Resolved)
	assert.False(t, d.PartiallyResolved)
}

func TestReconcile_SomeMarkersStalePartiallyResolves(t *testing.T) {
	markers := []string{"fp1:a.go:1", "fp2:a.go:2"}
	stale := map[string]struct{}{"fp1:a.go:1": {}}
	d := Reconcile(testLogger(), "github", "c1", markers, false, stale)
	assert.Equal(t, StateOpenPartial, d.NextState)
	assert.True(t, d.PartiallyResolved)
	assert.False(t, d.Resolved)
	assert.Equal(t, []string{"fp1:a.go:1"}, d.StaleMarkers)
}

func TestReconcile_NoMarkersStaleStaysOpenActive(t *testing.T) {
	markers := []string{"fp1:a.go:1"}
	d := Reconcile(testLogger(), "github", "c1", markers, false, map[string]struct{}{})
	assert.Equal(t, StateOpenActive, d.NextState)
	assert.False(t, d.Resolved)
	assert.False(t, d.PartiallyResolved)
}

func TestReconcile_RecordsEventsWithoutRawFingerprints(t *testing.T) {
	log := testLogger()
	markers := []string{"fp1:a.go:1"}
	Reconcile(log, "github", "c1", markers, false, map[string]struct{}{"fp1:a.go:1": {}})

	events := log.Events()
	require.Len(t, events, 1)
	assert.Equal(t, logging.EventCommentResolution, events[0].Name)
	for k := range events[0].Fields {
		assert.NotContains(t, []string{"fp1:a.go:1"}, k, "event fields must not key on raw DedupeKeys")
	}
	_, hasFingerprint := events[0].Fields["fingerprint"]
	assert.False(t, hasFingerprint)
}

func TestRewritePartialResolution_SingleCommentBodyStrikesMessage(t *testing.T) {
	rule := "RULE1"
	line := 1
	f := models.Finding{
		Fingerprint: "11111111111111111111111111111111",
		File:        "a.go",
		Line:        &line,
		Severity:    models.SeverityWarning,
		Message:     "finding one",
		RuleID:      &rule,
	}
	body := report.BuildSingleCommentBody(f)

	out := RewritePartialResolution(body, []string{"11111111111111111111111111111111:a.go:1"})
	assert.Contains(t, out, "~~⚠️ **Warning**: finding one (`RULE1`)~~ _(resolved)_")
	assert.Contains(t, out, sanitize.BuildMarker("11111111111111111111111111111111", "a.go", 1))
}

func TestRewritePartialResolution_GroupedCommentBodyMatchesMarkerToItsOwnFinding(t *testing.T) {
	line1, line2 := 1, 2
	findings := []models.Finding{
		{Fingerprint: "11111111111111111111111111111111", File: "a.go", Line: &line1, Severity: models.SeverityWarning, Message: "finding one"},
		{Fingerprint: "22222222222222222222222222222222", File: "a.go", Line: &line2, Severity: models.SeverityError, Message: "finding two"},
	}
	body := report.BuildGroupedCommentBody(findings)

	out := RewritePartialResolution(body, []string{"22222222222222222222222222222222:a.go:2"})
	assert.Contains(t, out, "1. ⚠️ **Warning**: finding one")
	assert.NotContains(t, out, "~~1. ⚠️ **Warning**: finding one~~")
	assert.Contains(t, out, "~~2. 🛑 **Error**: finding two~~ _(resolved)_")
	assert.Contains(t, out, sanitize.BuildMarker("11111111111111111111111111111111", "a.go", 1))
	assert.Contains(t, out, sanitize.BuildMarker("22222222222222222222222222222222", "a.go", 2))
}

func TestRewritePartialResolution_NoStaleMarkersIsNoOp(t *testing.T) {
	body := "unchanged body"
	assert.Equal(t, body, RewritePartialResolution(body, nil))
}

func TestRewritePartialResolution_AlreadyStruckThroughLineIsSkipped(t *testing.T) {
	marker := sanitize.BuildMarker("11111111111111111111111111111111", "a.go", 1)
	body := "~~already resolved~~ _(resolved)_ " + marker
	out := RewritePartialResolution(body, []string{"11111111111111111111111111111111:a.go:1"})
	assert.Equal(t, body, out)
}
