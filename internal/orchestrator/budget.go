package orchestrator

import (
	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Limits is the per-PR/monthly budget configuration consulted before any
// agent executes.
type Limits struct {
	MaxFiles         int
	MaxDiffLines     int
	MaxEstimatedTokens int
	InputRatePer1K   float64 // USD per 1K input tokens
	OutputRatePer1K  float64 // USD per 1K output tokens
	// EstimatedOutputRatio is the assumed output/input token ratio used to
	// estimate cost before any agent has actually run.
	EstimatedOutputRatio float64
	PerPRUSDCap    float64
	MonthlyUSDCap  float64
	MonthlySpentSoFar float64
}

// EstimateTokens approximates a token count as chars/4, rounded up.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

// EstimateCostUSD projects the dollar cost of a run from its estimated
// input token count and the configured per-1K rates.
func EstimateCostUSD(estimatedInputTokens int, limits Limits) float64 {
	inputCost := float64(estimatedInputTokens) / 1000 * limits.InputRatePer1K
	outputTokens := float64(estimatedInputTokens) * limits.EstimatedOutputRatio
	outputCost := outputTokens / 1000 * limits.OutputRatePer1K
	return inputCost + outputCost
}

// CheckBudget validates fileCount/diffLines/estimated-token/cost against
// limits, returning a *errs.BudgetExceeded naming the first violated
// dimension with a suggested reduced scope.
func CheckBudget(files []models.DiffFile, limits Limits) error {
	fileCount := len(files)
	if limits.MaxFiles > 0 && fileCount > limits.MaxFiles {
		return &errs.BudgetExceeded{
			Limit: "fileCount", Observed: float64(fileCount), Allowed: float64(limits.MaxFiles),
			SuggestedFix: "split the PR or narrow path_filters to review fewer files per run",
		}
	}

	diffLines := 0
	totalChars := 0
	for _, f := range files {
		for _, h := range f.Hunks {
			diffLines += len(h.AddedLines) + len(h.ContextLines)
		}
		totalChars += int(f.Additions+f.Deletions) * 60 // rough average line length
	}
	if limits.MaxDiffLines > 0 && diffLines > limits.MaxDiffLines {
		return &errs.BudgetExceeded{
			Limit: "diffLines", Observed: float64(diffLines), Allowed: float64(limits.MaxDiffLines),
			SuggestedFix: "review in smaller increments or exclude generated/vendored files via path_filters",
		}
	}

	estTokens := EstimateTokens(totalChars)
	if limits.MaxEstimatedTokens > 0 && estTokens > limits.MaxEstimatedTokens {
		return &errs.BudgetExceeded{
			Limit: "tokenEstimate", Observed: float64(estTokens), Allowed: float64(limits.MaxEstimatedTokens),
			SuggestedFix: "reduce the set of LLM-backed passes or narrow path_filters",
		}
	}

	cost := EstimateCostUSD(estTokens, limits)
	if limits.PerPRUSDCap > 0 && cost > limits.PerPRUSDCap {
		return &errs.BudgetExceeded{
			Limit: "usdCap", Observed: cost, Allowed: limits.PerPRUSDCap,
			SuggestedFix: "disable optional LLM passes for this PR or raise limits.per_pr_usd_cap",
		}
	}
	if limits.MonthlyUSDCap > 0 && limits.MonthlySpentSoFar+cost > limits.MonthlyUSDCap {
		return &errs.BudgetExceeded{
			Limit: "monthlyUsdCap", Observed: limits.MonthlySpentSoFar + cost, Allowed: limits.MonthlyUSDCap,
			SuggestedFix: "wait until next month's budget resets or raise limits.monthly_usd_cap",
		}
	}

	return nil
}
