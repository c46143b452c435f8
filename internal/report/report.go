// Package report composes comment bodies and the right-side-only inline
// payload shapes the hosting platforms accept, and defines ReviewHostClient,
// the thin boundary to the external hosting clients
// (internal/providers/github, internal/providers/ado).
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// InlinePayload is the platform-agnostic shape for a single inline
// comment; GitHub and ADO adapters translate it into their own wire
// shapes. Side is always "RIGHT" — the engine never addresses the left
// (old) side of a diff.
type InlinePayload struct {
	Path      models.CanonicalPath
	Line      int  // the single line, or the end line for a range
	StartLine int  // 0 when this is not a multi-line comment
	CommitID  string
	Body      string
}

// IsMultiLine reports whether this payload carries a start_line/
// start_side pair in addition to line/side.
func (p InlinePayload) IsMultiLine() bool { return p.StartLine != 0 }

func severityPrefix(s models.Severity) string {
	switch s {
	case models.SeverityError:
		return "🛑 **Error**"
	case models.SeverityWarning:
		return "⚠️ **Warning**"
	default:
		return "ℹ️ **Info**"
	}
}

// BuildSingleCommentBody composes a single-finding inline comment body: a
// severity-prefixed message, optional suggestion and ruleId, followed by
// the fingerprint marker.
func BuildSingleCommentBody(f models.Finding) string {
	var b strings.Builder
	b.WriteString(severityPrefix(f.Severity))
	b.WriteString(": ")
	b.WriteString(f.Message)
	if f.RuleID != nil && *f.RuleID != "" {
		fmt.Fprintf(&b, " (`%s`)", *f.RuleID)
	}
	if f.Suggestion != nil && *f.Suggestion != "" {
		b.WriteString("\n\n**Suggestion:** ")
		b.WriteString(*f.Suggestion)
	}
	b.WriteString("\n\n")
	line := 0
	if f.Line != nil {
		line = *f.Line
	}
	b.WriteString(sanitize.BuildMarker(f.Fingerprint, f.File, line))
	return b.String()
}

// BuildGroupedCommentBody composes a numbered-list comment for multiple
// findings within proximity on the same file, followed by all of their
// fingerprint markers in order.
func BuildGroupedCommentBody(findings []models.Finding) string {
	var b strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&b, "%d. %s: %s", i+1, severityPrefix(f.Severity), f.Message)
		if f.RuleID != nil && *f.RuleID != "" {
			fmt.Fprintf(&b, " (`%s`)", *f.RuleID)
		}
		if f.Suggestion != nil && *f.Suggestion != "" {
			fmt.Fprintf(&b, "\n   **Suggestion:** %s", *f.Suggestion)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	for _, f := range findings {
		line := 0
		if f.Line != nil {
			line = *f.Line
		}
		b.WriteString(sanitize.BuildMarker(f.Fingerprint, f.File, line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildInlinePayload builds the InlinePayload for one or more findings
// that share a file. A single finding with EndLine == nil (or
// EndLine == Line) produces a single-line payload; a finding with
// EndLine > Line produces a multi-line (start_line/start_side) payload.
// Every payload produced is right-side-only, never carrying a left-side
// field.
func BuildInlinePayload(findings []models.Finding, commitID string) InlinePayload {
	first := findings[0]
	line := 0
	if first.Line != nil {
		line = *first.Line
	}

	body := BuildSingleCommentBody(first)
	if len(findings) > 1 {
		body = BuildGroupedCommentBody(findings)
	}

	payload := InlinePayload{Path: first.File, Line: line, CommitID: commitID, Body: body}
	if first.EndLine != nil && first.Line != nil && *first.EndLine > *first.Line {
		payload.StartLine = *first.Line
		payload.Line = *first.EndLine
	}
	return payload
}

// ThreadStatus mirrors ADO's thread_status vocabulary.
type ThreadStatus string

const (
	ThreadActive  ThreadStatus = "active"
	ThreadFixed   ThreadStatus = "fixed"
	ThreadClosed  ThreadStatus = "closed"
	ThreadWontFix ThreadStatus = "wontFix"
	ThreadByDesign ThreadStatus = "byDesign"
	ThreadPending ThreadStatus = "pending"
)

// CheckRunConclusion mirrors GitHub's check-run conclusion vocabulary.
type CheckRunConclusion string

const (
	ConclusionSuccess CheckRunConclusion = "success"
	ConclusionFailure CheckRunConclusion = "failure"
	ConclusionNeutral CheckRunConclusion = "neutral"
)

// ReviewHostClient is the boundary every hosting-platform adapter
// satisfies; it is the only way the reporter touches the outside world.
type ReviewHostClient interface {
	StartCheckRun(ctx context.Context, owner, repo, headSHA string) (checkRunID string, err error)
	CompleteCheckRun(ctx context.Context, checkRunID string, conclusion CheckRunConclusion, title, summary string) error
	ListReviewComments(ctx context.Context, pr string) ([]models.PriorComment, error)
	CreateReviewComment(ctx context.Context, pr string, payload InlinePayload) error
	// UpdateThreadStatus is the ADO-flavored resolution transition. GitHub
	// has no separate thread_status concept: its adapter only rewrites the
	// comment body when rewrittenBody is non-empty and does not resolve
	// the review thread.
	UpdateThreadStatus(ctx context.Context, pr, commentID string, status ThreadStatus, rewrittenBody string) error
}
