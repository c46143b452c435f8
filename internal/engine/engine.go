// Package engine wires the review engine's components together into the
// single entry point the CLI calls: diff model -> orchestrator -> sanitize
// -> line resolver -> dedup -> reconcile -> report. Everything it calls
// is review logic; the glue itself is plumbing.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/internal/agent"
	"github.com/oddessentials/odd-ai-reviewers/internal/dedup"
	"github.com/oddessentials/odd-ai-reviewers/internal/diffmodel"
	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
	"github.com/oddessentials/odd-ai-reviewers/internal/orchestrator"
	"github.com/oddessentials/odd-ai-reviewers/internal/reconcile"
	"github.com/oddessentials/odd-ai-reviewers/internal/report"
	"github.com/oddessentials/odd-ai-reviewers/internal/retry"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// RunOptions identifies the ref pair and pull request one review run
// covers.
type RunOptions struct {
	Repo     string
	Base     string
	Head     string
	PR       string
	Owner    string
	RepoName string
	HeadSHA  string
	DryRun   bool
	// Drift overrides the default drift warn/fail thresholds when either
	// percentage is non-zero.
	Drift diffmodel.DriftThresholds
}

// Summary is what a run reports back to the CLI: enough to decide the exit
// code and render an abort/success message.
type Summary struct {
	TotalFindings    int
	Posted           int
	DuplicatesSkipped int
	Resolved         int
	PartiallyResolved int
	DriftLevel       diffmodel.DriftLevel
	Stats            diffmodel.NormalizationStats
	Passes           []orchestrator.PassOutcome
}

// Run executes one full review: agents, sanitize/normalize/dedup, then
// reconciliation against prior comments. A nil host is accepted in any
// mode: the run stops after dedup and nothing is listed, posted or
// updated. With a non-nil host, DryRun still calls ListReviewComments but
// never CreateReviewComment or UpdateThreadStatus; the no-partial-posting
// discipline applies identically to a dry run and to an aborted run.
func Run(ctx context.Context, orch *orchestrator.Orchestrator, files []models.DiffFile, env agent.Env, host report.ReviewHostClient, opts RunOptions, log *logging.Logger) (Summary, error) {
	resolver := diffmodel.NewLineResolver(files)

	var checkRunID string
	if host != nil && !opts.DryRun {
		id, err := host.StartCheckRun(ctx, opts.Owner, opts.RepoName, opts.HeadSHA)
		if err != nil {
			return Summary{}, fmt.Errorf("starting check run: %w", err)
		}
		checkRunID = id
	}

	runResult, err := orch.Run(ctx, files, env)
	if err != nil {
		completeCheckRun(ctx, host, checkRunID, err, log)
		return Summary{Passes: runResult.Passes}, err
	}

	// Fingerprint before sanitizing: the fingerprint is computed on raw
	// text so it stays stable across the HTML-escape pass.
	for i := range runResult.Findings {
		sanitize.FingerprintFinding(&runResult.Findings[i])
		runResult.Findings[i] = sanitize.Sanitize(runResult.Findings[i])
	}

	normalized, stats, invalidDetails := resolver.NormalizeFindingsForDiff(runResult.Findings, diffmodel.NormalizeOptions{AutoFix: true})
	thresholds := opts.Drift
	if thresholds.WarnPercent == 0 && thresholds.FailPercent == 0 {
		thresholds = diffmodel.DefaultDriftThresholds()
	}
	driftLevel, _, _ := diffmodel.DriftSignal(stats, thresholds)
	if driftLevel != diffmodel.DriftOK {
		log.Record("drift_signal", map[string]any{"level": string(driftLevel), "samples": len(invalidDetails)})
	}

	dedup.Sort(normalized)
	deduped := dedup.Dedup(normalized)

	summary := Summary{TotalFindings: len(deduped), DriftLevel: driftLevel, Stats: stats, Passes: runResult.Passes}

	if host == nil {
		return summary, nil
	}

	var priors []models.PriorComment
	err = retry.Do(ctx, retry.DefaultConfig(), log, func() error {
		var listErr error
		priors, listErr = host.ListReviewComments(ctx, opts.PR)
		return listErr
	})
	if err != nil {
		err = fmt.Errorf("listing prior comments: %w", err)
		completeCheckRun(ctx, host, checkRunID, err, log)
		return summary, err
	}

	existingKeys := map[string]struct{}{}
	var open []dedup.OpenComment
	markerForOpen := map[int]string{} // index into open -> its original marker string
	for _, p := range priors {
		for _, m := range p.Markers {
			existingKeys[m] = struct{}{}
			fp, file, line := splitDedupeKey(m)
			markerForOpen[len(open)] = m
			open = append(open, dedup.OpenComment{Fingerprint: fp, File: file, Line: line})
		}
	}

	results := dedup.ProximityDedup(deduped, existingKeys, open)
	var newFindings []models.Finding
	for _, r := range results {
		if r.IsNew {
			newFindings = append(newFindings, r.Finding)
		} else {
			summary.DuplicatesSkipped++
		}
	}

	if !opts.DryRun {
		for _, f := range groupByFileAndProximity(newFindings) {
			payload := report.BuildInlinePayload(f, opts.HeadSHA)
			if err := retry.Do(ctx, retry.DefaultConfig(), log, func() error {
				return host.CreateReviewComment(ctx, opts.PR, payload)
			}); err != nil {
				err = fmt.Errorf("posting comment: %w", err)
				completeCheckRun(ctx, host, checkRunID, err, log)
				return summary, err
			}
			summary.Posted += len(f)
		}
	}

	staleSet := map[string]struct{}{}
	for i, oc := range open {
		if dedup.IsStale(oc, deduped) {
			staleSet[markerForOpen[i]] = struct{}{}
		}
	}

	for _, p := range priors {
		decision := reconcile.Reconcile(log, platformName(host), p.CommentID, p.Markers, p.Malformed, staleSet)
		if decision.Resolved {
			summary.Resolved++
			if !opts.DryRun {
				if err := retry.Do(ctx, retry.DefaultConfig(), log, func() error {
					return host.UpdateThreadStatus(ctx, opts.PR, p.CommentID, report.ThreadFixed, "")
				}); err != nil {
					err = fmt.Errorf("resolving comment %s: %w", p.CommentID, err)
					completeCheckRun(ctx, host, checkRunID, err, log)
					return summary, err
				}
			}
		} else if decision.PartiallyResolved {
			summary.PartiallyResolved++
			if !opts.DryRun {
				rewritten := reconcile.RewritePartialResolution(p.Body, decision.StaleMarkers)
				if err := retry.Do(ctx, retry.DefaultConfig(), log, func() error {
					return host.UpdateThreadStatus(ctx, opts.PR, p.CommentID, report.ThreadActive, rewritten)
				}); err != nil {
					err = fmt.Errorf("partially resolving comment %s: %w", p.CommentID, err)
					completeCheckRun(ctx, host, checkRunID, err, log)
					return summary, err
				}
			}
		}
	}

	if checkRunID != "" {
		title := fmt.Sprintf("%d findings, %d posted", summary.TotalFindings, summary.Posted)
		if err := host.CompleteCheckRun(ctx, checkRunID, report.ConclusionSuccess, title, ""); err != nil {
			return summary, fmt.Errorf("completing check run: %w", err)
		}
	}

	return summary, nil
}

// completeCheckRun closes an open check run after an aborted review:
// neutral with an "interrupted" title when the run was cancelled, failure
// with a diagnostic title otherwise. The failure summary carries the
// abort reason followed by the run's event list (pass name, status,
// skip/error reason). The completion call runs on a cancellation-free
// context so a signal that aborted the review doesn't also abort the
// cleanup.
func completeCheckRun(ctx context.Context, host report.ReviewHostClient, checkRunID string, cause error, log *logging.Logger) {
	if host == nil || checkRunID == "" {
		return
	}
	cleanupCtx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		_ = host.CompleteCheckRun(cleanupCtx, checkRunID, report.ConclusionNeutral, "review interrupted", "")
		return
	}
	_ = host.CompleteCheckRun(cleanupCtx, checkRunID, report.ConclusionFailure, "review failed", abortSummary(cause, log))
}

// abortSummary renders the abort reason plus the run's event list.
func abortSummary(cause error, log *logging.Logger) string {
	var b strings.Builder
	b.WriteString(cause.Error())
	events := log.Events()
	if len(events) == 0 {
		return b.String()
	}
	b.WriteString("\n\nEvents:\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s", ev.Name)
		if pass, ok := ev.Fields["pass"]; ok {
			fmt.Fprintf(&b, " %v", pass)
		}
		if status, ok := ev.Fields["status"]; ok {
			fmt.Fprintf(&b, ": %v", status)
		}
		if reason, ok := ev.Fields["reason"]; ok {
			fmt.Fprintf(&b, " (%v)", reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func platformName(host report.ReviewHostClient) string {
	if host == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", host)
}

func splitDedupeKey(key string) (fingerprint string, file models.CanonicalPath, line int) {
	// DedupeKey is "fingerprint:file:line"; file itself never contains a
	// colon (canonical paths are POSIX-style), so splitting on the last
	// colon for line and the first for fingerprint is unambiguous.
	firstColon := strings.IndexByte(key, ':')
	if firstColon < 0 {
		return "", models.CanonicalPath(key), 0
	}
	lastColon := strings.LastIndexByte(key, ':')
	if lastColon <= firstColon {
		return key[:firstColon], models.CanonicalPath(key[firstColon+1:]), 0
	}
	fp := key[:firstColon]
	path := key[firstColon+1 : lastColon]
	l, _ := strconv.Atoi(key[lastColon+1:])
	return fp, models.CanonicalPath(path), l
}

// groupByFileAndProximity clusters findings sharing a file into one
// grouped-comment payload when they sit within the proximity threshold
// of each other. Grouping reuses the same threshold as cross-run dedup.
func groupByFileAndProximity(findings []models.Finding) [][]models.Finding {
	var groups [][]models.Finding
	byFile := map[models.CanonicalPath][]models.Finding{}
	var order []models.CanonicalPath
	for _, f := range findings {
		if _, ok := byFile[f.File]; !ok {
			order = append(order, f.File)
		}
		byFile[f.File] = append(byFile[f.File], f)
	}
	for _, path := range order {
		fs := byFile[path]
		var cur []models.Finding
		for _, f := range fs {
			if len(cur) == 0 {
				cur = append(cur, f)
				continue
			}
			last := cur[len(cur)-1]
			if sameProximityGroup(last, f) {
				cur = append(cur, f)
				continue
			}
			groups = append(groups, cur)
			cur = []models.Finding{f}
		}
		if len(cur) > 0 {
			groups = append(groups, cur)
		}
	}
	return groups
}

func sameProximityGroup(a, b models.Finding) bool {
	if a.Line == nil || b.Line == nil {
		return a.Line == nil && b.Line == nil
	}
	d := *a.Line - *b.Line
	if d < 0 {
		d = -d
	}
	return d <= dedup.LineProximityThreshold
}
