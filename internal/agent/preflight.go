package agent

import (
	"regexp"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
)

// ollamaModelRe matches an Ollama-shaped model string like "llama3:8b".
var ollamaModelRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]+:[a-zA-Z0-9_.-]+$`)

// completionsOnlyModels are rejected outright: they don't support the
// chat-completion style calling convention every agent here relies on.
var completionsOnlyModels = map[string]bool{
	"text-davinci-003": true,
	"text-davinci-002": true,
	"davinci":          true,
	"curie":            true,
	"babbage":          true,
	"ada":               true,
}

func modelProviderPrefix(model string) Provider {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1-") || strings.HasPrefix(model, "o3-"):
		return ProviderOpenAI
	default:
		return ProviderNone
	}
}

// ValidateModelCompatibility implements the provider resolution checks
// beyond precedence: completions-only rejection,
// provider/model mismatch, and the Ollama-shaped-model-with-cloud-agent
// guard. anyCloudAgentEnabled should be true whenever at least one
// non-local-LLM agent is enabled in the run's configuration.
func ValidateModelCompatibility(agentID, model string, env Env, anyCloudAgentEnabled bool) error {
	if completionsOnlyModels[model] {
		return &errs.PreflightError{
			AgentID: agentID,
			Reason:  "model " + model + " is a completions-only model and is not supported; choose a chat-completion model instead",
		}
	}

	if want := modelProviderPrefix(model); want != ProviderNone {
		have := ResolveProvider(ProviderNone, env, false)
		if have != want {
			fixes := modelMismatchFixes(have, want)
			return &errs.PreflightError{
				AgentID: agentID,
				Reason:  describeMismatch(want, model, have) + "; " + strings.Join(fixes, "; "),
			}
		}
	}

	if ollamaModelRe.MatchString(model) && anyCloudAgentEnabled {
		return &errs.PreflightError{
			AgentID: agentID,
			Reason:  "model " + model + " looks like an Ollama local-model tag but a cloud agent is enabled; disable cloud agents to use a local model",
		}
	}

	return nil
}

func describeMismatch(want Provider, model string, have Provider) string {
	wantName := providerDisplayName(want)
	haveName := providerDisplayName(have)
	if have == ProviderNone {
		return "model " + model + " requires " + wantName + " but no matching API key is configured"
	}
	return "model " + model + " requires " + wantName + " but the resolved provider is " + haveName
}

func providerDisplayName(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAzure:
		return "Azure OpenAI"
	case ProviderOllama:
		return "Ollama"
	default:
		return "no provider"
	}
}

// modelMismatchFixes suggests two ways to resolve a have/want provider
// mismatch: change MODEL to match the provider that actually won
// resolution (have), or remove the env key that made it win so
// resolution falls through to the provider the model string wants.
func modelMismatchFixes(have, want Provider) []string {
	var fixes []string
	if sample := sampleModelFor(have); sample != "" {
		fixes = append(fixes, "set "+EnvModel+"="+sample+" to match the "+providerDisplayName(have)+" key that is configured")
	}
	if key := envKeyFor(have); key != "" {
		fixes = append(fixes, "or remove "+key+" so provider resolution falls through to "+providerDisplayName(want))
	}
	return fixes
}

func sampleModelFor(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderAzure:
		return "gpt-4o"
	default:
		return ""
	}
}

func envKeyFor(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return EnvAnthropicKey
	case ProviderOpenAI:
		return EnvOpenAIKey
	case ProviderAzure:
		return EnvAzureKey
	default:
		return ""
	}
}
