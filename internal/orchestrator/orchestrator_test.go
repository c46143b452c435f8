package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentpkg "github.com/oddessentials/odd-ai-reviewers/internal/agent"
	"github.com/oddessentials/odd-ai-reviewers/internal/cache"
	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// fakeAgent is a minimal in-package Agent stand-in so orchestrator tests
// don't need a real subprocess or HTTP endpoint.
type fakeAgent struct {
	id            string
	preflightErr  error
	execErr       error
	findings      []models.Finding
	panics        bool
	supportsFunc  func(models.DiffFile) bool
	executedCount int
}

func (a *fakeAgent) ID() string { return a.id }

func (a *fakeAgent) Supports(f models.DiffFile) bool {
	if a.supportsFunc != nil {
		return a.supportsFunc(f)
	}
	return true
}

func (a *fakeAgent) Preflight(env agentpkg.Env) error { return a.preflightErr }

func (a *fakeAgent) Execute(ctx context.Context, files []models.DiffFile, env agentpkg.Env) ([]models.Finding, error) {
	a.executedCount++
	if a.panics {
		panic("boom")
	}
	return a.findings, a.execErr
}

func testLogger() *logging.Logger {
	return logging.New(&bytes.Buffer{}, "test-run")
}

func newOrchestrator(passes []Pass) *Orchestrator {
	return New(Config{Passes: passes, Limits: Limits{MaxFiles: 100, MaxDiffLines: 100000}}, cache.NewMemoryStore(), testLogger())
}

func TestRun_SuccessfulAgentContributesCompleteFindings(t *testing.T) {
	a := &fakeAgent{id: "a1", findings: []models.Finding{{Message: "m", Severity: models.SeverityWarning, File: "a.go"}}}
	o := newOrchestrator([]Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: true}})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go", Status: models.StatusModified}}, agentpkg.Env{})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, models.ProvenanceComplete, result.Findings[0].Provenance)
	assert.Equal(t, "a1", result.Findings[0].SourceAgent)
}

func TestRun_DisabledPassIsSkippedNotExecuted(t *testing.T) {
	a := &fakeAgent{id: "a1", findings: []models.Finding{{Message: "m"}}}
	o := newOrchestrator([]Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: false}})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go"}}, agentpkg.Env{})
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
	assert.Equal(t, 0, a.executedCount)
	require.Len(t, result.Passes, 1)
	assert.Equal(t, "skipped", result.Passes[0].Status)
}

func TestRun_OptionalPassFailureDoesNotAbortRun(t *testing.T) {
	failing := &fakeAgent{id: "a1", preflightErr: assertableErr{"bad config"}}
	ok := &fakeAgent{id: "a2", findings: []models.Finding{{Message: "ok"}}}
	o := newOrchestrator([]Pass{
		{Name: "optional", Agents: []agentpkg.Agent{failing}, Enabled: true, Required: false},
		{Name: "required", Agents: []agentpkg.Agent{ok}, Enabled: true, Required: true},
	})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go"}}, agentpkg.Env{})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "ok", result.Findings[0].Message)
}

func TestRun_RequiredPassFailureAbortsRemainingPasses(t *testing.T) {
	failing := &fakeAgent{id: "a1", preflightErr: assertableErr{"bad config"}}
	neverRuns := &fakeAgent{id: "a2", findings: []models.Finding{{Message: "should not appear"}}}
	o := newOrchestrator([]Pass{
		{Name: "required", Agents: []agentpkg.Agent{failing}, Enabled: true, Required: true},
		{Name: "later", Agents: []agentpkg.Agent{neverRuns}, Enabled: true},
	})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go"}}, agentpkg.Env{})
	require.Error(t, err)
	assert.Equal(t, 0, neverRuns.executedCount)
	assert.Empty(t, result.Findings)
}

func TestRun_PanicInsideAgentBecomesExecFailureNotCrash(t *testing.T) {
	a := &fakeAgent{id: "a1", panics: true}
	o := newOrchestrator([]Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: true}})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go"}}, agentpkg.Env{})
	require.NoError(t, err)
	require.Len(t, result.Passes, 1)
	require.Len(t, result.Passes[0].Results, 1)
	assert.True(t, result.Passes[0].Results[0].IsFailure())
	assert.Equal(t, models.StageExec, result.Passes[0].Results[0].FailureStage)
}

func TestRun_FailedAgentKeepsPartialFindingsAsPartialProvenance(t *testing.T) {
	a := &fakeAgent{
		id:       "a1",
		execErr:  assertableErr{"connection reset mid-run"},
		findings: []models.Finding{{Message: "emitted before the failure", File: "a.go"}},
	}
	o := newOrchestrator([]Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: true}})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go"}}, agentpkg.Env{})
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, models.ProvenancePartial, result.Findings[0].Provenance)
	assert.Equal(t, "a1", result.Findings[0].SourceAgent)
	require.Len(t, result.Passes[0].Results, 1)
	assert.True(t, result.Passes[0].Results[0].IsFailure())
}

func TestRun_AgentWithNoSupportedFilesIsSkipped(t *testing.T) {
	a := &fakeAgent{id: "a1", supportsFunc: func(models.DiffFile) bool { return false }}
	o := newOrchestrator([]Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: true}})

	result, err := o.Run(context.Background(), []models.DiffFile{{Path: "a.go"}}, agentpkg.Env{})
	require.NoError(t, err)
	require.Len(t, result.Passes[0].Results, 1)
	assert.True(t, result.Passes[0].Results[0].IsSkipped())
	assert.Equal(t, 0, a.executedCount)
}

func TestRun_CacheHitSkipsSecondExecution(t *testing.T) {
	a := &fakeAgent{id: "a1", findings: []models.Finding{{Message: "m"}}}
	store := cache.NewMemoryStore()
	o := New(Config{
		Passes: []Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: true}},
		Limits: Limits{MaxFiles: 100, MaxDiffLines: 100000},
		CacheTTL: time.Hour,
	}, store, testLogger())

	files := []models.DiffFile{{Path: "a.go", Status: models.StatusModified}}
	_, err := o.Run(context.Background(), files, agentpkg.Env{})
	require.NoError(t, err)
	assert.Equal(t, 1, a.executedCount)

	_, err = o.Run(context.Background(), files, agentpkg.Env{})
	require.NoError(t, err)
	assert.Equal(t, 1, a.executedCount, "second run with identical inputs should hit the cache, not re-execute")
}

func TestRun_BudgetExceededAbortsBeforeAnyAgentRuns(t *testing.T) {
	a := &fakeAgent{id: "a1", findings: []models.Finding{{Message: "m"}}}
	o := New(Config{
		Passes: []Pass{{Name: "p1", Agents: []agentpkg.Agent{a}, Enabled: true}},
		Limits: Limits{MaxFiles: 1},
	}, cache.NewMemoryStore(), testLogger())

	files := []models.DiffFile{{Path: "a.go"}, {Path: "b.go"}}
	_, err := o.Run(context.Background(), files, agentpkg.Env{})
	require.Error(t, err)
	assert.Equal(t, 0, a.executedCount)
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }
