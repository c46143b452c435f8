// Package staticagent implements agent.Agent by shelling out to a static
// analyzer binary (e.g. semgrep) that emits findings as JSON on stdout.
// It resolves to the null provider; static agents never touch an LLM
// key.
package staticagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/oddessentials/odd-ai-reviewers/internal/agent"
	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

// Agent runs an external command against a set of file paths and parses
// its stdout as a strict-JSON findings envelope.
type Agent struct {
	id         string
	command    string
	args       []string
	extensions map[string]bool
}

// New builds a static agent that invokes command with args plus the
// supported files' paths appended, restricting Supports() to the given
// extensions (without the dot).
func New(id, command string, args []string, extensions []string) *Agent {
	set := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		set[strings.ToLower(e)] = true
	}
	return &Agent{id: id, command: command, args: args, extensions: set}
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Supports(f models.DiffFile) bool {
	if f.Status == models.StatusDeleted || f.IsBinary {
		return false
	}
	idx := strings.LastIndex(string(f.Path), ".")
	if idx < 0 {
		return false
	}
	return a.extensions[strings.ToLower(string(f.Path)[idx+1:])]
}

// Preflight for a static agent only needs to confirm the legacy-alias gate
// and that the binary is resolvable on PATH; static agents resolve to the
// null provider so no key/model compatibility check applies.
func (a *Agent) Preflight(env agent.Env) error {
	if err := agent.CheckLegacyAliases(env); err != nil {
		return err
	}
	if _, err := exec.LookPath(a.command); err != nil {
		return &errs.PreflightError{AgentID: a.id, Reason: "executable " + a.command + " not found on PATH", Err: err}
	}
	return nil
}

type staticFinding struct {
	Severity string  `json:"severity"`
	File     string  `json:"file"`
	Line     *int    `json:"line"`
	EndLine  *int    `json:"endLine"`
	Message  string  `json:"message"`
	RuleID   *string `json:"ruleId"`
}

func (a *Agent) Execute(ctx context.Context, files []models.DiffFile, env agent.Env) ([]models.Finding, error) {
	var paths []string
	for _, f := range files {
		if a.Supports(f) {
			paths = append(paths, string(f.Path))
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}

	args := append(append([]string{}, a.args...), paths...)
	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Env = envSlice(agent.BuildAgentEnv(env))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: agent.MaxBufferBytes}
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, &errs.AgentError{AgentID: a.id, Stage: errs.StageExec, Err: err}
		}
		// non-zero exit with findings on stdout is still a valid report
		// shape for most static analyzers; fall through to parsing.
	}

	var out struct {
		Findings []staticFinding `json:"findings"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, &errs.AgentError{AgentID: a.id, Stage: errs.StageParse, Err: fmt.Errorf("mixed stdout: %w", err)}
	}

	findings := make([]models.Finding, 0, len(out.Findings))
	for _, sf := range out.Findings {
		findings = append(findings, models.Finding{
			Severity:    models.Severity(sf.Severity),
			File:        models.Canonicalize(sf.File),
			Line:        sf.Line,
			EndLine:     sf.EndLine,
			Message:     sf.Message,
			RuleID:      sf.RuleID,
			SourceAgent: a.id,
		})
	}
	return findings, nil
}

func envSlice(env agent.Env) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// limitedWriter enforces the maxBuffer cap on subprocess stdout: an
// over-cap write becomes a sticky error surfaced once Run returns.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
	err     error
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if l.written+len(p) > l.limit {
		l.err = fmt.Errorf("maxBuffer exceeded")
		return 0, l.err
	}
	n, err := l.w.Write(p)
	l.written += n
	return n, err
}
