// Package github implements report.ReviewHostClient against the GitHub
// REST API: PAT-bearer HTTP calls speaking the reconciler's
// inline-comment and check-run contract.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/internal/report"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Client is a thin GitHub REST API wrapper authenticated with a PAT.
// "owner/repo/number" is the PR identifier used throughout.
type Client struct {
	pat        string
	httpClient *http.Client
}

func New(pat string) *Client {
	return &Client{pat: pat, httpClient: http.DefaultClient}
}

func splitPR(pr string) (owner, repo, number string, err error) {
	parts := strings.Split(pr, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("invalid GitHub PR id: expected 'owner/repo/number', got %q", pr)
	}
	return parts[0], parts[1], parts[2], nil
}

func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+c.pat)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// StartCheckRun creates a GitHub check run in the "in_progress" state.
func (c *Client) StartCheckRun(ctx context.Context, owner, repo, headSHA string) (string, error) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/check-runs", owner, repo)
	payload := map[string]any{
		"name":     "odd-ai-reviewers",
		"head_sha": headSHA,
		"status":   "in_progress",
	}
	resp, err := c.do(ctx, "POST", url, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", &errs.PlatformError{Platform: "github", StatusCode: resp.StatusCode, Operation: "startCheckRun"}
	}
	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	// Returned in "owner/repo/id" form (not the bare numeric id) so
	// CompleteCheckRun, which has no other way to learn owner/repo, can
	// round-trip it the same way the PR identifier round-trips elsewhere
	// in this client.
	return fmt.Sprintf("%s/%s/%d", owner, repo, out.ID), nil
}

// CompleteCheckRun finishes a check run with the given conclusion and
// title/summary. On process-level cancellation, the caller is expected to
// pass ConclusionNeutral and an "… interrupted" title.
func (c *Client) CompleteCheckRun(ctx context.Context, checkRunID string, conclusion report.CheckRunConclusion, title, summary string) error {
	// checkRunID alone doesn't carry owner/repo; callers that need this
	// generally also know owner/repo from the run context, so accept the
	// fully-qualified form "owner/repo/id" here to keep the interface
	// symmetric with StartCheckRun's inputs.
	owner, repo, id, err := splitPR(checkRunID)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/check-runs/%s", owner, repo, id)
	payload := map[string]any{
		"status":     "completed",
		"conclusion": string(conclusion),
		"output": map[string]string{
			"title":   title,
			"summary": summary,
		},
	}
	resp, err := c.do(ctx, "PATCH", url, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.PlatformError{Platform: "github", StatusCode: resp.StatusCode, Operation: "completeCheckRun"}
	}
	return nil
}

// ListReviewComments fetches every review comment on the PR and extracts
// each one's fingerprint markers via sanitize.ExtractMarkers, marking a
// comment malformed if extraction finds an HTML comment with the marker
// prefix but the strict regex still fails to capture all three fields.
func (c *Client) ListReviewComments(ctx context.Context, pr string) ([]models.PriorComment, error) {
	owner, repo, number, err := splitPR(pr)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/pulls/%s/comments", owner, repo, number)
	resp, err := c.do(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &errs.PlatformError{Platform: "github", StatusCode: resp.StatusCode, Operation: "listReviewComments"}
	}

	var raw []struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]models.PriorComment, 0, len(raw))
	for _, rc := range raw {
		markers := sanitize.ExtractMarkers(rc.Body)
		out = append(out, models.PriorComment{
			CommentID: strconv.FormatInt(rc.ID, 10),
			Body:      rc.Body,
			Markers:   markers,
			Malformed: sanitize.HasMalformedMarkers(rc.Body),
		})
	}
	return out, nil
}

// CreateReviewComment posts an inline review comment addressed to the
// right (new) side of the diff: single-line comments carry only
// {path, line, side: RIGHT, commit_id}; multi-line comments add
// {start_line, start_side: RIGHT}. LEFT-sided fields never appear.
func (c *Client) CreateReviewComment(ctx context.Context, pr string, payload report.InlinePayload) error {
	owner, repo, number, err := splitPR(pr)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/pulls/%s/comments", owner, repo, number)

	body := map[string]any{
		"body":      payload.Body,
		"commit_id": payload.CommitID,
		"path":      string(payload.Path),
		"line":      payload.Line,
		"side":      "RIGHT",
	}
	if payload.IsMultiLine() {
		body["start_line"] = payload.StartLine
		body["start_side"] = "RIGHT"
	}

	resp, err := c.do(ctx, "POST", url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		log.Warn().Str("path", string(payload.Path)).Int("status", resp.StatusCode).Msg("github line comment failed")
		return &errs.PlatformError{Platform: "github", StatusCode: resp.StatusCode, Operation: "createReviewComment"}
	}
	return nil
}

// UpdateThreadStatus has no GitHub equivalent of ADO's thread_status;
// "resolved" means replacing the comment body (striking through resolved
// findings) and, for a fully-resolved comment, marking the review thread
// resolved via the GraphQL API. The REST-only PATCH used here covers the
// strike-through rewrite; full resolution additionally requires the
// GraphQL resolveReviewThread mutation, which is out of this client's
// scope (see DESIGN.md).
func (c *Client) UpdateThreadStatus(ctx context.Context, pr, commentID string, status report.ThreadStatus, rewrittenBody string) error {
	if rewrittenBody == "" {
		// Full resolution carries no rewritten body; PATCHing an empty body
		// would wipe the comment. Thread resolution itself needs GraphQL,
		// so there is nothing to do over REST here.
		return nil
	}
	owner, repo, _, err := splitPR(pr)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/pulls/comments/%s", owner, repo, commentID)
	resp, err := c.do(ctx, "PATCH", url, map[string]string{"body": rewrittenBody})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.PlatformError{Platform: "github", StatusCode: resp.StatusCode, Operation: "updateThreadStatus"}
	}
	return nil
}
