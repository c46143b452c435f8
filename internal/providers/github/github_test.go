package github

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oddessentials/odd-ai-reviewers/internal/report"
)

func TestSplitPR_RejectsWrongShape(t *testing.T) {
	_, _, _, err := splitPR("owner/repo")
	assert.Error(t, err)
}

func TestSplitPR_ParsesOwnerRepoNumber(t *testing.T) {
	owner, repo, number, err := splitPR("acme/widgets/42")
	assert.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
	assert.Equal(t, "42", number)
}

func TestCreateReviewComment_RejectsMalformedPR(t *testing.T) {
	c := New("fake-pat")
	err := c.CreateReviewComment(context.Background(), "bad-id", report.InlinePayload{Path: "a.go", Line: 1})
	assert.Error(t, err)
}

func TestCompleteCheckRun_RejectsMalformedCheckRunID(t *testing.T) {
	c := New("fake-pat")
	err := c.CompleteCheckRun(context.Background(), "not-a-valid-id", report.ConclusionSuccess, "t", "s")
	assert.Error(t, err)
}
