// Package gitlab implements report.ReviewHostClient against the GitLab
// REST API: merge request discussions for findings and commit statuses for
// the check-run lifecycle. It authenticates through the official
// gitlab.com/gitlab-org/api/client-go SDK but drives discussions through
// direct REST calls to sidestep endpoint gaps in the SDK's typed
// discussion support; the SDK client only validates the token/base URL
// pair at construction time.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/internal/report"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Client talks to one GitLab instance (gitlab.com or self-managed) with a
// personal or project access token. PR identifiers are
// "urlEncodedProjectPath/mergeRequestIID".
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	sdk        *gitlab.Client
}

// New constructs a Client against the given GitLab instance base URL (e.g.
// "https://gitlab.com") using a personal/project access token. It builds
// the official SDK client purely so a bad base URL is caught at
// construction instead of on first request.
func New(baseURL, token string) (*Client, error) {
	sdk := gitlab.NewClient(nil, token)
	if err := sdk.SetBaseURL(baseURL + "/api/v4"); err != nil {
		return nil, fmt.Errorf("setting GitLab API base URL: %w", err)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/") + "/api/v4", token: token, httpClient: http.DefaultClient, sdk: sdk}, nil
}

func splitPR(pr string) (projectID, mrIID string, err error) {
	idx := strings.LastIndex(pr, "/")
	if idx < 0 {
		return "", "", fmt.Errorf("invalid GitLab PR id: expected 'project/path/mrIID', got %q", pr)
	}
	return pr[:idx], pr[idx+1:], nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
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
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// StartCheckRun opens a GitLab commit status in the "running" state, the
// GitLab analog of a GitHub check run; it returns "owner/repo@sha" as the
// handle, since GitLab keys statuses by sha+name rather than issuing a
// separate id.
func (c *Client) StartCheckRun(ctx context.Context, owner, repo, headSHA string) (string, error) {
	projectID := url.PathEscape(owner + "/" + repo)
	path := fmt.Sprintf("/projects/%s/statuses/%s", projectID, headSHA)
	body := map[string]string{"state": "running", "name": "odd-ai-reviewers", "context": "odd-ai-reviewers"}
	resp, err := c.do(ctx, "POST", path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "startCheckRun"}
	}
	return owner + "/" + repo + "@" + headSHA, nil
}

// CompleteCheckRun transitions the commit status opened by StartCheckRun to
// "success" or "failed"; GitLab has no "neutral" status, so a neutral
// conclusion is reported as success with the summary text unchanged.
func (c *Client) CompleteCheckRun(ctx context.Context, checkRunID string, conclusion report.CheckRunConclusion, title, summary string) error {
	at := strings.LastIndex(checkRunID, "@")
	if at < 0 {
		return fmt.Errorf("invalid GitLab check run id %q", checkRunID)
	}
	projectPath, sha := checkRunID[:at], checkRunID[at+1:]
	state := "success"
	if conclusion == report.ConclusionFailure {
		state = "failed"
	}
	projectID := url.PathEscape(projectPath)
	path := fmt.Sprintf("/projects/%s/statuses/%s", projectID, sha)
	body := map[string]string{"state": state, "name": "odd-ai-reviewers", "context": "odd-ai-reviewers", "description": summary}
	resp, err := c.do(ctx, "POST", path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "completeCheckRun"}
	}
	return nil
}

type glDiscussion struct {
	ID    string `json:"id"`
	Notes []struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	} `json:"notes"`
}

// ListReviewComments lists the merge request's discussions and extracts
// fingerprint markers from each discussion's first note, the way the
// GitHub and ADO adapters extract markers from their own comment bodies.
func (c *Client) ListReviewComments(ctx context.Context, pr string) ([]models.PriorComment, error) {
	projectPath, mrIID, err := splitPR(pr)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/projects/%s/merge_requests/%s/discussions", url.PathEscape(projectPath), mrIID)
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "listReviewComments"}
	}

	var discussions []glDiscussion
	if err := json.NewDecoder(resp.Body).Decode(&discussions); err != nil {
		return nil, err
	}

	var priors []models.PriorComment
	for _, d := range discussions {
		if len(d.Notes) == 0 {
			continue
		}
		body := d.Notes[0].Body
		markers := sanitize.ExtractMarkers(body)
		priors = append(priors, models.PriorComment{
			CommentID: d.ID,
			Body:      body,
			Markers:   markers,
			Malformed: sanitize.HasMalformedMarkers(body),
		})
	}
	return priors, nil
}

type mrVersion struct {
	BaseCommitSHA  string `json:"base_commit_sha"`
	HeadCommitSHA  string `json:"head_commit_sha"`
	StartCommitSHA string `json:"start_commit_sha"`
}

func (c *Client) latestVersion(ctx context.Context, projectID, mrIID string) (*mrVersion, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%s/versions", url.PathEscape(projectID), mrIID)
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "getLatestMRVersion"}
	}
	var versions []mrVersion
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no versions found for merge request %s", mrIID)
	}
	return &versions[0], nil
}

// CreateReviewComment opens a new discussion positioned on the new-side
// line of payload.Path, never setting old_line, mirroring the GitHub and
// ADO adapters' RIGHT-side-only invariant. For a
// multi-line payload it anchors on payload.Line (the end of the range),
// since GitLab discussion positions identify a single anchor line, not a
// start/end span.
func (c *Client) CreateReviewComment(ctx context.Context, pr string, payload report.InlinePayload) error {
	projectID, mrIID, err := splitPR(pr)
	if err != nil {
		return err
	}
	version, err := c.latestVersion(ctx, projectID, mrIID)
	if err != nil {
		return err
	}

	filePath := strings.TrimPrefix(string(payload.Path), "/")
	position := map[string]any{
		"position_type": "text",
		"base_sha":      version.BaseCommitSHA,
		"head_sha":      version.HeadCommitSHA,
		"start_sha":     version.StartCommitSHA,
		"new_path":      filePath,
		"old_path":      filePath,
		"new_line":      payload.Line,
	}
	body := map[string]any{"body": payload.Body, "position": position}

	path := fmt.Sprintf("/projects/%s/merge_requests/%s/discussions", url.PathEscape(projectID), mrIID)
	resp, err := c.do(ctx, "POST", path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "createReviewComment"}
	}
	return nil
}

// UpdateThreadStatus resolves or reopens a discussion and, when
// rewrittenBody is non-empty, rewrites its first note's content for the
// partial-resolution strike-through case; GitLab discussions only know
// resolved/unresolved, so ThreadFixed and ThreadClosed map to "resolved"
// and every other ThreadStatus to "unresolved".
func (c *Client) UpdateThreadStatus(ctx context.Context, pr, commentID string, status report.ThreadStatus, rewrittenBody string) error {
	projectID, mrIID, err := splitPR(pr)
	if err != nil {
		return err
	}
	resolved := status == report.ThreadFixed || status == report.ThreadClosed
	path := fmt.Sprintf("/projects/%s/merge_requests/%s/discussions/%s?resolved=%s",
		url.PathEscape(projectID), mrIID, commentID, strconv.FormatBool(resolved))
	resp, err := c.do(ctx, "PUT", path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "updateThreadStatus"}
	}

	if rewrittenBody == "" {
		return nil
	}
	noteID, err := c.firstNoteID(ctx, projectID, mrIID, commentID)
	if err != nil {
		return err
	}
	notePath := fmt.Sprintf("/projects/%s/merge_requests/%s/discussions/%s/notes/%d",
		url.PathEscape(projectID), mrIID, commentID, noteID)
	resp2, err := c.do(ctx, "PUT", notePath, map[string]string{"body": rewrittenBody})
	if err != nil {
		return err
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		return &errs.PlatformError{Platform: "gitlab", StatusCode: resp2.StatusCode, Operation: "updateThreadStatus"}
	}
	return nil
}

func (c *Client) firstNoteID(ctx context.Context, projectID, mrIID, discussionID string) (int64, error) {
	path := fmt.Sprintf("/projects/%s/merge_requests/%s/discussions/%s", url.PathEscape(projectID), mrIID, discussionID)
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &errs.PlatformError{Platform: "gitlab", StatusCode: resp.StatusCode, Operation: "getDiscussion"}
	}
	var d glDiscussion
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return 0, err
	}
	if len(d.Notes) == 0 {
		return 0, fmt.Errorf("discussion %s has no notes", discussionID)
	}
	return d.Notes[0].ID, nil
}
