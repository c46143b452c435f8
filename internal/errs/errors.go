// Package errs holds the review engine's typed error-kind values:
// sentinel-wrapped structs implementing error, matched with
// errors.As rather than string comparison, and always propagated with
// %w wrapping rather than flow-control panics.
package errs

import "fmt"

// ConfigErrorKind distinguishes the three documented config failure
// shapes.
type ConfigErrorKind string

const (
	InvalidSchema ConfigErrorKind = "INVALID_SCHEMA"
	InvalidValue  ConfigErrorKind = "INVALID_VALUE"
	ParseError    ConfigErrorKind = "PARSE_ERROR"
)

// ConfigError is surfaced, never recovered: a bad config aborts
// validateConfig/runReview before anything else happens.
type ConfigError struct {
	Kind ConfigErrorKind
	Path string // config key or file path implicated, if known
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config error (%s) at %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("config error (%s): %v", e.Kind, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PreflightError is surfaced; the review aborts before any agent
// executes. On GitHub, the check-run is completed with conclusion=failure
// and the title "review failed"; this error's text opens the summary.
type PreflightError struct {
	AgentID string // empty when the failure isn't attributable to one agent
	Reason  string
	Err     error
}

func (e *PreflightError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("preflight failed for agent %s: %s", e.AgentID, e.Reason)
	}
	return fmt.Sprintf("preflight failed: %s", e.Reason)
}

func (e *PreflightError) Unwrap() error { return e.Err }

// AgentStage mirrors models.FailureStage's values (plus StageTimeout, which
// models has no counterpart for) but lives here too so errs has no
// import-time dependency on pkg/models.
type AgentStage string

const (
	StagePreflight AgentStage = "preflight"
	StageExec      AgentStage = "exec"
	StageParse     AgentStage = "parse"
	StageTimeout   AgentStage = "timeout"
)

// AgentError is recovered locally by the orchestrator: it becomes a
// Failure AgentResult and does not abort the pass unless the pass is
// required.
type AgentError struct {
	AgentID string
	Stage   AgentStage
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed at %s: %v", e.AgentID, e.Stage, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// BudgetExceeded is surfaced; the review aborts with a suggested reduced
// scope rather than attempting a partial run.
type BudgetExceeded struct {
	Limit        string // e.g. "fileCount", "diffLines", "tokenEstimate", "usdCap"
	Observed     float64
	Allowed      float64
	SuggestedFix string
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("budget exceeded: %s observed=%.2f allowed=%.2f (%s)", e.Limit, e.Observed, e.Allowed, e.SuggestedFix)
}

// PlatformError wraps a hosting-API 4xx/5xx. It is retried with bounded
// backoff by the caller; once retries are exhausted it becomes terminal
// and is surfaced.
type PlatformError struct {
	Platform   string // "github" | "ado" | "gitlab"
	StatusCode int
	Operation  string
	Err        error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s API error during %s (status %d): %v", e.Platform, e.Operation, e.StatusCode, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// ValidationWarningReason enumerates the non-error outcomes the line
// resolver can attach to a finding: these contribute to stats and may
// produce a drift-level warning, but never abort anything.
type ValidationWarningReason string

const (
	ReasonLineOutOfDiff    ValidationWarningReason = "not in the diff context"
	ReasonAmbiguousRename  ValidationWarningReason = "ambiguous-rename"
	ReasonDeletedFile      ValidationWarningReason = "deleted-file"
	ReasonNotFoundInDiff   ValidationWarningReason = "not found in diff"
	ReasonNotAnAddedLine   ValidationWarningReason = "not an added line"
	ReasonMustBePositive   ValidationWarningReason = "must be positive"
)
