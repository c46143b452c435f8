// Package llmagent implements agent.Agent over langchaingo's unified
// llms.Model interface, wrapping Anthropic/OpenAI/Ollama behind one
// implementation that speaks the orchestrator's Finding contract instead
// of returning raw completion text to a caller.
package llmagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/oddessentials/odd-ai-reviewers/internal/agent"
	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/internal/sanitize"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Agent is a langchaingo-backed reviewer: it renders the redacted diff
// into a prompt, asks the model for strict-JSON findings, and parses the
// result into models.Finding values.
type Agent struct {
	id           string
	model        string
	provider     agent.Provider
	extensions   map[string]bool
	systemPrompt string
	// cloudAgentsEnabled records whether the run's configuration enables
	// any cloud-provider agent; an ollama-shaped model string is only
	// acceptable when it doesn't.
	cloudAgentsEnabled bool
}

// New builds an LLM agent for the given id/model. extensions restricts
// Supports() to files with one of the given extensions (without the dot);
// a nil/empty set means "any non-deleted, non-binary file". cloudAgentsEnabled is the
// run-level signal for the ollama-shaped-model preflight check: pass true
// when any enabled agent in the run resolves to a cloud provider.
func New(id, model string, provider agent.Provider, extensions []string, systemPrompt string, cloudAgentsEnabled bool) *Agent {
	set := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		set[strings.ToLower(e)] = true
	}
	return &Agent{id: id, model: model, provider: provider, extensions: set, systemPrompt: systemPrompt, cloudAgentsEnabled: cloudAgentsEnabled}
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Supports(f models.DiffFile) bool {
	if f.Status == models.StatusDeleted || f.IsBinary {
		return false
	}
	if len(a.extensions) == 0 {
		return true
	}
	ext := extensionOf(string(f.Path))
	return a.extensions[ext]
}

func extensionOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[idx+1:])
}

func (a *Agent) Preflight(env agent.Env) error {
	if err := agent.CheckLegacyAliases(env); err != nil {
		return err
	}
	return agent.ValidateModelCompatibility(a.id, a.model, env, a.cloudAgentsEnabled)
}

// newModel constructs the langchaingo llms.Model for this agent's
// resolved provider, mirroring aiconnectors.NewConnector's
// switch-on-provider shape.
func (a *Agent) newModel(ctx context.Context, env agent.Env) (llms.Model, error) {
	switch a.provider {
	case agent.ProviderAnthropic:
		return anthropic.New(anthropic.WithToken(env[agent.EnvAnthropicKey]), anthropic.WithModel(a.model))
	case agent.ProviderOpenAI:
		return openai.New(openai.WithToken(env[agent.EnvOpenAIKey]), openai.WithModel(a.model))
	case agent.ProviderAzure:
		return openai.New(
			openai.WithToken(env[agent.EnvAzureKey]),
			openai.WithBaseURL(env[agent.EnvAzureEndpoint]),
			openai.WithModel(env[agent.EnvAzureDeployment]),
			openai.WithAPIType(openai.APITypeAzure),
		)
	case agent.ProviderOllama:
		base := env[agent.EnvOllamaBaseURL]
		if base == "" {
			base = "http://localhost:11434"
		}
		return ollama.New(ollama.WithServerURL(base), ollama.WithModel(a.model))
	default:
		return nil, &errs.PreflightError{AgentID: a.id, Reason: "no provider resolved for model " + a.model}
	}
}

// llmFinding is the strict-JSON envelope the prompt asks the model to
// emit: a flat findings array, nothing else. The response is not held to
// that strictly: prose around the outermost {...} is trimmed
// (extractJSONObject), and if that fails to decode it is run through
// jsonrepair and decoded again; only a response that still fails to
// decode is a parse-stage Failure.
type llmFinding struct {
	Severity   string  `json:"severity"`
	File       string  `json:"file"`
	Line       *int    `json:"line"`
	EndLine    *int    `json:"endLine"`
	Message    string  `json:"message"`
	Suggestion *string `json:"suggestion"`
	RuleID     *string `json:"ruleId"`
}

type llmEnvelope struct {
	Findings []llmFinding `json:"findings"`
}

func (a *Agent) Execute(ctx context.Context, files []models.DiffFile, env agent.Env) ([]models.Finding, error) {
	model, err := a.newModel(ctx, env)
	if err != nil {
		return nil, err
	}

	fileLines := map[models.CanonicalPath][]string{}
	for _, f := range files {
		if !a.Supports(f) {
			continue
		}
		fileLines[f.Path] = patchLines(f)
	}
	redacted, _ := sanitize.RedactDiffForLLM(fileLines)

	prompt := renderPrompt(a.systemPrompt, redacted)

	raw, err := llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithTemperature(0.2))
	if err != nil {
		return nil, &errs.AgentError{AgentID: a.id, Stage: errs.StageExec, Err: err}
	}

	candidate := extractJSONObject(raw)
	var env_ llmEnvelope
	if err := json.Unmarshal([]byte(candidate), &env_); err != nil {
		// Models occasionally emit almost-valid JSON (trailing commas,
		// unescaped newlines); repair it before declaring a parse
		// failure.
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return nil, &errs.AgentError{AgentID: a.id, Stage: errs.StageParse, Err: fmt.Errorf("mixed stdout, strict JSON required: %w", err)}
		}
		if err := json.Unmarshal([]byte(repaired), &env_); err != nil {
			return nil, &errs.AgentError{AgentID: a.id, Stage: errs.StageParse, Err: fmt.Errorf("mixed stdout, strict JSON required even after repair: %w", err)}
		}
	}

	out := make([]models.Finding, 0, len(env_.Findings))
	for _, lf := range env_.Findings {
		out = append(out, models.Finding{
			Severity:    models.Severity(lf.Severity),
			File:        models.Canonicalize(lf.File),
			Line:        lf.Line,
			EndLine:     lf.EndLine,
			Message:     lf.Message,
			Suggestion:  lf.Suggestion,
			RuleID:      lf.RuleID,
			SourceAgent: a.id,
		})
	}
	return out, nil
}

// patchLines yields the file's raw patch text, line by line, for the
// redaction/prompt step. A DiffFile without patch text (e.g. one built
// from a hosting API that only reported line numbers) degrades to a
// line-number sketch so the prompt stays well-formed.
func patchLines(f models.DiffFile) []string {
	if f.Patch != "" {
		return strings.Split(strings.TrimRight(f.Patch, "\n"), "\n")
	}
	var lines []string
	for _, h := range f.Hunks {
		for _, l := range h.AddedLines {
			lines = append(lines, fmt.Sprintf("+%d", l))
		}
	}
	return lines
}

func renderPrompt(systemPrompt string, files []sanitize.RedactedFile) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nReview the following changes. Respond with strict JSON only, matching " +
		`{"findings":[{"severity":"error|warning|info","file":"...","line":123,"endLine":null,"message":"...","suggestion":null,"ruleId":null}]}` + ".\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "### %s\n", f.Path)
		for _, l := range f.Lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// extractJSONObject trims any leading/trailing prose a model adds despite
// instructions, returning the first top-level {...} object it can find.
// jsonrepair is reserved for genuinely malformed JSON, not prose
// wrapping, so the prose trim happens first.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
