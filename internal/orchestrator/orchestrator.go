// Package orchestrator runs the configured passes/agents over a diff:
// preflight, supports/safe-path filtering, cache lookup, execution,
// provenance tagging, and cache storage. Pass-sequential, agent-parallel
// concurrency is built on golang.org/x/sync/errgroup: one task set joined
// at each pass boundary, a single cancellation context shared by every
// agent task in the pass.
package orchestrator

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	agentpkg "github.com/oddessentials/odd-ai-reviewers/internal/agent"
	"github.com/oddessentials/odd-ai-reviewers/internal/cache"
	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Pass is one ordered stage of the review: a named group of agents that
// run concurrently with each other, after all earlier passes completed.
type Pass struct {
	Name     string
	Agents   []agentpkg.Agent
	Enabled  bool
	Required bool
}

// Config is the orchestrator's full run configuration.
type Config struct {
	Passes        []Pass
	Limits        Limits
	CacheTTL      time.Duration
	AgentTimeout  time.Duration // 0 means agentpkg.DefaultTimeout
	EffectiveModel func(agentID string) string
	ProviderOf     func(agentID string) string
	// MaxConcurrentLLMCalls, when positive, rate-limits agent executions:
	// every agent that misses the cache waits on a limiter allowing this
	// many starts per second, with a burst of the same size. It applies to
	// all agents, not only HTTP-backed LLM ones, and it limits the start
	// rate, not how many agents run at the same time. 0 means unlimited.
	MaxConcurrentLLMCalls int
}

// PassOutcome records one pass's run for the abort-summary event list.
type PassOutcome struct {
	Name    string
	Status  string // "completed" | "skipped" | "failed"
	Reason  string
	Results []models.AgentResult
}

// RunResult is everything the orchestrator produced for a run, before
// sanitization/normalization/dedup take over.
type RunResult struct {
	Findings []models.Finding
	Passes   []PassOutcome
}

// Orchestrator drives the pass/agent lifecycle over a frozen set of
// DiffFiles.
type Orchestrator struct {
	cfg     Config
	store   cache.Store
	log     *logging.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store cache.Store, log *logging.Logger) *Orchestrator {
	if cfg.AgentTimeout == 0 {
		cfg.AgentTimeout = agentpkg.DefaultTimeout
	}
	o := &Orchestrator{cfg: cfg, store: store, log: log}
	if cfg.MaxConcurrentLLMCalls > 0 {
		// A burst equal to MaxConcurrentLLMCalls lets that many agent
		// executions start immediately; beyond it, each additional start
		// waits for the limiter to refill at MaxConcurrentLLMCalls per
		// second.
		o.limiter = rate.NewLimiter(rate.Limit(cfg.MaxConcurrentLLMCalls), cfg.MaxConcurrentLLMCalls)
	}
	return o
}

// safePathRe rejects whitespace-only or argument-like paths before they
// reach a subprocess argv.
var safePathRe = regexp.MustCompile(`^-|^\s*$`)

const maxSafePathSamples = 5

func filterSafePaths(files []models.DiffFile) (safe []models.DiffFile, droppedCount int, samples []string) {
	for _, f := range files {
		if safePathRe.MatchString(string(f.Path)) || strings.TrimSpace(string(f.Path)) == "" {
			droppedCount++
			if len(samples) < maxSafePathSamples {
				samples = append(samples, string(f.Path))
			}
			continue
		}
		safe = append(safe, f)
	}
	return safe, droppedCount, samples
}

func filterSupported(a agentpkg.Agent, files []models.DiffFile) []models.DiffFile {
	var out []models.DiffFile
	for _, f := range files {
		if a.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

func diffContentFingerprint(files []models.DiffFile) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(string(f.Path))
		b.WriteByte(0)
		for _, h := range f.Hunks {
			for _, l := range h.AddedLines {
				b.WriteString("+")
				b.WriteString(strconv.Itoa(l))
			}
		}
	}
	return cacheFingerprint(b.String())
}

// Run executes every enabled pass in order against files, using env for
// preflight/execution, and returns the accumulated raw findings plus a
// per-pass outcome log. A required pass's failure aborts the remaining
// passes; an optional pass's failure is recorded and the run continues.
func (o *Orchestrator) Run(ctx context.Context, files []models.DiffFile, env agentpkg.Env) (RunResult, error) {
	if err := CheckBudget(files, o.cfg.Limits); err != nil {
		return RunResult{}, err
	}

	safeFiles, droppedCount, droppedSamples := filterSafePaths(files)
	if droppedCount > 0 {
		o.log.Record("safe_path_filter", map[string]any{"dropped": droppedCount, "samples": droppedSamples})
	}

	result := RunResult{}
	for _, pass := range o.cfg.Passes {
		if !pass.Enabled {
			result.Passes = append(result.Passes, PassOutcome{Name: pass.Name, Status: "skipped", Reason: "disabled"})
			continue
		}

		passResults, err := o.runPass(ctx, pass, safeFiles, env)
		if err != nil {
			o.log.Record(logging.EventPassResult, map[string]any{"pass": pass.Name, "status": "failed", "reason": err.Error()})
			result.Passes = append(result.Passes, PassOutcome{Name: pass.Name, Status: "failed", Reason: err.Error(), Results: passResults})
			if pass.Required {
				return result, err
			}
			continue
		}

		o.log.Record(logging.EventPassResult, map[string]any{"pass": pass.Name, "status": "completed", "agents": len(passResults)})
		result.Passes = append(result.Passes, PassOutcome{Name: pass.Name, Status: "completed", Results: passResults})

		for _, ar := range passResults {
			ar.Visit(
				func(findings []models.Finding, m models.AgentMetrics) {
					for _, f := range findings {
						f.Provenance = models.ProvenanceComplete
						result.Findings = append(result.Findings, f)
					}
				},
				func(_ error, _ models.FailureStage, partial []models.Finding, m models.AgentMetrics) {
					for _, f := range partial {
						f.Provenance = models.ProvenancePartial
						result.Findings = append(result.Findings, f)
					}
				},
				func(_ string, _ models.AgentMetrics) {},
			)
		}
	}

	return result, nil
}

// runPass runs every agent in a pass concurrently via errgroup, sharing
// one cancellation context, and returns one AgentResult per agent
// (including ones that failed preflight, which become Failure results
// rather than aborting their siblings — only a *required pass's* overall
// failure propagates up to Run).
func (o *Orchestrator) runPass(ctx context.Context, pass Pass, files []models.DiffFile, env agentpkg.Env) ([]models.AgentResult, error) {
	results := make([]models.AgentResult, len(pass.Agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range pass.Agents {
		i, a := i, a
		g.Go(func() error {
			results[i] = o.runAgent(gctx, a, files, env)
			if pass.Required && results[i].IsFailure() {
				return &errs.PreflightError{AgentID: a.ID(), Reason: "required pass agent failed"}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && pass.Required {
		return results, err
	}
	return results, nil
}

func (o *Orchestrator) runAgent(ctx context.Context, a agentpkg.Agent, files []models.DiffFile, env agentpkg.Env) models.AgentResult {
	start := time.Now()
	metrics := func() models.AgentMetrics {
		return models.AgentMetrics{DurationMs: time.Since(start).Milliseconds()}
	}

	if err := a.Preflight(env); err != nil {
		return models.NewFailure(a.ID(), err, models.StagePreflight, nil, metrics())
	}

	supported := filterSupported(a, files)
	if len(supported) == 0 {
		return models.NewSkipped(a.ID(), "no supported files in this diff", metrics())
	}

	fileStats := make([]cache.FileStat, len(supported))
	for i, f := range supported {
		fileStats[i] = cache.FileStat{Path: f.Path, Status: f.Status, Additions: f.Additions, Deletions: f.Deletions}
	}
	model, provider := "", ""
	if o.cfg.EffectiveModel != nil {
		model = o.cfg.EffectiveModel(a.ID())
	}
	if o.cfg.ProviderOf != nil {
		provider = o.cfg.ProviderOf(a.ID())
	}
	key := cache.Key(a.ID(), model, provider, fileStats, diffContentFingerprint(supported))

	if cached, ok := o.store.Get(key); ok {
		o.log.Record(logging.EventAgentRun, map[string]any{"agent": a.ID(), "cache": "hit"})
		return cached
	}

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return models.NewFailure(a.ID(), err, models.StageExec, nil, metrics())
		}
	}

	agentCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()

	result := o.executeWithRecover(agentCtx, a, supported, env, metrics)
	o.store.Set(key, result, o.cfg.CacheTTL)
	o.log.Record(logging.EventAgentRun, map[string]any{"agent": a.ID(), "cache": "miss", "outcome": outcomeName(result)})
	return result
}

// executeWithRecover wraps Agent.Execute so a panic inside an agent task
// becomes an exec-stage Failure instead of taking down the whole run.
func (o *Orchestrator) executeWithRecover(ctx context.Context, a agentpkg.Agent, files []models.DiffFile, env agentpkg.Env, metrics func() models.AgentMetrics) (result models.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			result = models.NewFailure(a.ID(), &errs.AgentError{AgentID: a.ID(), Stage: errs.StageExec, Err: panicError(r)}, models.StageExec, nil, metrics())
		}
	}()

	if ctx.Err() != nil {
		return models.NewFailure(a.ID(), ctx.Err(), models.StageExec, nil, metrics())
	}

	findings, err := a.Execute(ctx, files, env)
	for i := range findings {
		findings[i].SourceAgent = a.ID()
	}
	if err != nil {
		var ae *errs.AgentError
		stage := models.StageExec
		if ok := asAgentError(err, &ae); ok {
			stage = models.FailureStage(ae.Stage)
		}
		// Findings emitted before the failure are kept as partial results.
		return models.NewFailure(a.ID(), err, stage, findings, metrics())
	}
	return models.NewSuccess(a.ID(), findings, metrics())
}

func outcomeName(r models.AgentResult) string {
	switch {
	case r.IsSuccess():
		return "success"
	case r.IsFailure():
		return "failure"
	default:
		return "skipped"
	}
}
