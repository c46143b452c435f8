// Package agent defines the orchestrator's Agent contract and the
// preflight/provider-resolution/env-scrubbing logic shared by every
// concrete agent implementation (internal/agent/llmagent,
// internal/agent/staticagent).
package agent

import (
	"context"
	"time"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Agent is the contract every analysis back-end satisfies. Agents are
// opaque processes from the core's point of view: they declare what they
// can look at, and the orchestrator drives preflight, filtering, caching
// and execution around them.
type Agent interface {
	// ID is the agent's stable identifier, used in cache keys and
	// provenance tagging.
	ID() string

	// Supports reports whether this agent can meaningfully review f —
	// typically an extension check plus status != deleted.
	Supports(f models.DiffFile) bool

	// Preflight validates this agent's provider/model/secret tuple against
	// env before any file is touched. A non-nil error aborts this agent
	// (and, if its pass is required, the whole review).
	Preflight(env Env) error

	// Execute runs the agent over the given files and returns its raw
	// findings (not yet fingerprinted, sanitized, or line-normalized —
	// the orchestrator does that uniformly afterward). ctx carries the
	// per-agent timeout.
	Execute(ctx context.Context, files []models.DiffFile, env Env) ([]models.Finding, error)
}

// Env is the immutable, per-run environment snapshot handed to agents.
// Built once from the process environment; never mutated after
// construction.
type Env map[string]string

// Provider identifies the resolved LLM backend (ProviderNone, "", for
// non-LLM agents).
type Provider string

const (
	ProviderNone      Provider = ""
	ProviderAnthropic Provider = "anthropic"
	ProviderAzure     Provider = "azure"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// Canonical environment variable names. Any legacy alias seen instead is
// a hard preflight error.
const (
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvAnthropicKey      = "ANTHROPIC_API_KEY"
	EnvAzureKey          = "AZURE_OPENAI_API_KEY"
	EnvAzureEndpoint     = "AZURE_OPENAI_ENDPOINT"
	EnvAzureDeployment   = "AZURE_OPENAI_DEPLOYMENT"
	EnvOllamaBaseURL     = "OLLAMA_BASE_URL"
	EnvModel             = "MODEL"
	EnvGitHubToken       = "GITHUB_TOKEN"
	EnvLocalLLMOptional  = "LOCAL_LLM_OPTIONAL"
	EnvLocalLLMNumCtx    = "LOCAL_LLM_NUM_CTX"
	EnvLocalLLMTimeout   = "LOCAL_LLM_TIMEOUT"
)

// legacyAliases maps a legacy env var name to the migration hint shown
// when it is present. Their presence is a hard preflight error, not a
// silent fallback.
var legacyAliases = map[string]string{
	"PR_AGENT_API_KEY":           "use " + EnvOpenAIKey + " or " + EnvAnthropicKey + " instead",
	"AI_SEMANTIC_REVIEW_API_KEY": "use " + EnvOpenAIKey + " or " + EnvAnthropicKey + " instead",
	"OPENCODE_MODEL":             "use " + EnvModel + " instead",
	"OPENAI_MODEL":               "use " + EnvModel + " instead",
	"OPENCODE_API_KEY":           "use " + EnvOpenAIKey + " instead",
}

// CheckLegacyAliases returns a migration-hint error if env carries any
// legacy key name.
func CheckLegacyAliases(env Env) error {
	for k, hint := range legacyAliases {
		if _, present := env[k]; present {
			return &errs.PreflightError{Reason: "legacy environment variable " + k + " is set: " + hint}
		}
	}
	return nil
}

// ResolveProvider implements the provider-resolution precedence:
// explicit config > Anthropic key > complete Azure bundle (only for
// Azure-capable agents) > OpenAI key > null.
func ResolveProvider(explicit Provider, env Env, azureCapable bool) Provider {
	if explicit != ProviderNone {
		return explicit
	}
	if _, ok := env[EnvAnthropicKey]; ok {
		return ProviderAnthropic
	}
	if azureCapable && hasCompleteAzureBundle(env) {
		return ProviderAzure
	}
	if _, ok := env[EnvOpenAIKey]; ok {
		return ProviderOpenAI
	}
	return ProviderNone
}

func hasCompleteAzureBundle(env Env) bool {
	_, key := env[EnvAzureKey]
	_, endpoint := env[EnvAzureEndpoint]
	_, deployment := env[EnvAzureDeployment]
	return key && endpoint && deployment
}

// BuildAgentEnv scrubs the hosting-platform tokens out of the process
// environment snapshot and injects UTF-8 locale hints. Hosting tokens
// never leak into a subprocess that doesn't need them.
func BuildAgentEnv(env Env) Env {
	hostingTokens := map[string]struct{}{
		EnvGitHubToken:      {},
		"SYSTEM_ACCESSTOKEN": {},
		"GITLAB_TOKEN":       {},
	}
	out := make(Env, len(env)+2)
	for k, v := range env {
		if _, hosting := hostingTokens[k]; hosting {
			continue
		}
		out[k] = v
	}
	out["LANG"] = "en_US.UTF-8"
	out["LC_ALL"] = "en_US.UTF-8"
	return out
}

// Per-agent execution limits.
const (
	DefaultTimeout = 300 * time.Second
	MaxBufferBytes = 50 * 1024 * 1024
)
