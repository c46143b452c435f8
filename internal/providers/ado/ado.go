// Package ado implements report.ReviewHostClient against Azure DevOps'
// pull-request-threads API, in the same PAT-bearer HTTP style as the
// GitHub adapter it's a sibling of. Thread status transitions map onto
// ADO's active/fixed/closed/wontFix/byDesign/pending vocabulary.
package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/internal/report"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Client wraps the Azure DevOps REST API (api-version=7.1) for one
// organization/project/repo, authenticated with a personal access token.
// PR identifiers are "org/project/repo/pullRequestId".
type Client struct {
	pat        string
	httpClient *http.Client
}

func New(pat string) *Client {
	return &Client{pat: pat, httpClient: http.DefaultClient}
}

func splitPR(pr string) (org, project, repo, id string, err error) {
	parts := strings.Split(pr, "/")
	if len(parts) != 4 {
		return "", "", "", "", fmt.Errorf("invalid ADO PR id: expected 'org/project/repo/pullRequestId', got %q", pr)
	}
	return parts[0], parts[1], parts[2], parts[3], nil
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
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.pat))
	req.Header.Set("Authorization", "Basic "+auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// StartCheckRun has no Azure DevOps equivalent (ADO has no check-run
// concept); it is a no-op that returns an empty handle, so callers
// written against ReviewHostClient don't need an
// ADO-specific branch just to skip this step.
func (c *Client) StartCheckRun(ctx context.Context, owner, repo, headSHA string) (string, error) {
	return "", nil
}

// CompleteCheckRun is a no-op on ADO; there is no check run to finish.
func (c *Client) CompleteCheckRun(ctx context.Context, checkRunID string, conclusion report.CheckRunConclusion, title, summary string) error {
	return nil
}

func (c *Client) ListReviewComments(ctx context.Context, pr string) ([]models.PriorComment, error) {
	org, project, repo, id, err := splitPR(pr)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://dev.azure.com/%s/%s/_apis/git/repositories/%s/pullRequests/%s/threads?api-version=7.1", org, project, repo, id)
	resp, err := c.do(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &errs.PlatformError{Platform: "ado", StatusCode: resp.StatusCode, Operation: "listReviewComments"}
	}

	var out struct {
		Value []struct {
			ID       int64 `json:"id"`
			Comments []struct {
				Content string `json:"content"`
			} `json:"comments"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	var priors []models.PriorComment
	for _, thread := range out.Value {
		if len(thread.Comments) == 0 {
			continue
		}
		body := thread.Comments[0].Content
		markers := sanitize.ExtractMarkers(body)
		priors = append(priors, models.PriorComment{
			CommentID: fmt.Sprintf("%d", thread.ID),
			Body:      body,
			Markers:   markers,
			Malformed: sanitize.HasMalformedMarkers(body),
		})
	}
	return priors, nil
}

// CreateReviewComment creates a new ADO thread using
// threadContext.rightFileStart/rightFileEnd; leftFileStart/leftFileEnd
// are never set, matching the GitHub client's RIGHT-only invariant.
func (c *Client) CreateReviewComment(ctx context.Context, pr string, payload report.InlinePayload) error {
	org, project, repo, id, err := splitPR(pr)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://dev.azure.com/%s/%s/_apis/git/repositories/%s/pullRequests/%s/threads?api-version=7.1", org, project, repo, id)

	rightEnd := map[string]int{"line": payload.Line, "offset": 1}
	threadContext := map[string]any{
		"filePath":       "/" + string(payload.Path),
		"rightFileStart": map[string]int{"line": firstLine(payload), "offset": 1},
		"rightFileEnd":   rightEnd,
	}

	body := map[string]any{
		"comments": []map[string]string{
			{"content": payload.Body, "commentType": "text"},
		},
		"status":        "active",
		"threadContext": threadContext,
	}

	resp, err := c.do(ctx, "POST", url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &errs.PlatformError{Platform: "ado", StatusCode: resp.StatusCode, Operation: "createReviewComment"}
	}
	return nil
}

func firstLine(payload report.InlinePayload) int {
	if payload.IsMultiLine() {
		return payload.StartLine
	}
	return payload.Line
}

// UpdateThreadStatus transitions an ADO thread's status
// (active/fixed/closed/wontFix/byDesign/pending) and rewrites its first
// comment's content, for the partial-resolution strike-through case.
func (c *Client) UpdateThreadStatus(ctx context.Context, pr, commentID string, status report.ThreadStatus, rewrittenBody string) error {
	org, project, repo, id, err := splitPR(pr)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://dev.azure.com/%s/%s/_apis/git/repositories/%s/pullRequests/%s/threads/%s?api-version=7.1", org, project, repo, id, commentID)
	body := map[string]any{"status": string(status)}
	resp, err := c.do(ctx, "PATCH", url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.PlatformError{Platform: "ado", StatusCode: resp.StatusCode, Operation: "updateThreadStatus"}
	}

	if rewrittenBody == "" {
		return nil
	}
	commentURL := fmt.Sprintf("https://dev.azure.com/%s/%s/_apis/git/repositories/%s/pullRequests/%s/threads/%s/comments/1?api-version=7.1", org, project, repo, id, commentID)
	resp2, err := c.do(ctx, "PATCH", commentURL, map[string]string{"content": rewrittenBody})
	if err != nil {
		return err
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		return &errs.PlatformError{Platform: "ado", StatusCode: resp2.StatusCode, Operation: "updateThreadStatus"}
	}
	return nil
}
