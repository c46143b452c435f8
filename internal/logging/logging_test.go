package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_AppendsEventAndEmitsLogLine(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "run-123")

	log.Record(EventAgentRun, map[string]any{"agent": "semgrep", "findings": 3})

	events := log.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAgentRun, events[0].Name)
	assert.Equal(t, "semgrep", events[0].Fields["agent"])

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "run-123", line["run_id"])
	assert.Equal(t, EventAgentRun, line["event"])
}

func TestEvents_ReturnsSnapshotNotLiveSlice(t *testing.T) {
	log := New(&bytes.Buffer{}, "run-1")
	log.Record("e1", nil)

	snap := log.Events()
	log.Record("e2", nil)

	assert.Len(t, snap, 1, "earlier snapshot must not see events recorded afterward")
	assert.Len(t, log.Events(), 2)
}

func TestInfoWarnErrorDebug_WriteThroughToUnderlyingLogger(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "run-1")
	log.Warn().Str("k", "v").Msg("heads up")
	assert.True(t, strings.Contains(buf.String(), "heads up"))
	assert.True(t, strings.Contains(buf.String(), `"warn"`))
}
