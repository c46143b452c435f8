package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	agentpkg "github.com/oddessentials/odd-ai-reviewers/internal/agent"
	"github.com/oddessentials/odd-ai-reviewers/internal/agent/llmagent"
	"github.com/oddessentials/odd-ai-reviewers/internal/agent/staticagent"
	"github.com/oddessentials/odd-ai-reviewers/internal/cache"
	"github.com/oddessentials/odd-ai-reviewers/internal/config"
	"github.com/oddessentials/odd-ai-reviewers/internal/diffmodel"
	"github.com/oddessentials/odd-ai-reviewers/internal/engine"
	"github.com/oddessentials/odd-ai-reviewers/internal/logging"
	"github.com/oddessentials/odd-ai-reviewers/internal/orchestrator"
	"github.com/oddessentials/odd-ai-reviewers/internal/pathfilter"
	"github.com/oddessentials/odd-ai-reviewers/internal/providers/ado"
	"github.com/oddessentials/odd-ai-reviewers/internal/providers/github"
	"github.com/oddessentials/odd-ai-reviewers/internal/providers/gitlab"
	"github.com/oddessentials/odd-ai-reviewers/internal/report"
	"github.com/oddessentials/odd-ai-reviewers/pkg/models"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Review the diff between --base and --head and post findings",
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	if flagRepo == "" {
		return missingFlag("repo")
	}
	if flagBase == "" || flagHead == "" {
		return missingFlag("base/head")
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}

	runID := newRunID()
	log := logging.Default(runID)

	env := snapshotEnv()

	if flagPlatform == "" {
		flagPlatform = detectPlatform(env)
	}
	if flagPR == "" {
		flagPR = prFromEnv(flagPlatform, env)
	}

	files, err := loadDiff(flagRepo, flagBase, flagHead)
	if err != nil {
		return fmt.Errorf("loading diff: %w", err)
	}

	filter, err := loadPathFilter(flagRepo, cfg.PathFilters)
	if err != nil {
		return fmt.Errorf("loading .reviewignore: %w", err)
	}
	files = applyPathFilter(files, filter, log)

	orch := buildOrchestrator(cfg, env, log)

	var host report.ReviewHostClient
	if !flagDryRun {
		host, err = buildHost(env)
		if err != nil {
			return err
		}
	}

	summary, err := engine.Run(context.Background(), orch, files, env, host, engine.RunOptions{
		Repo: flagRepo, Base: flagBase, Head: flagHead, PR: flagPR,
		Owner: flagOwner, RepoName: flagRepoName, HeadSHA: flagHead, DryRun: flagDryRun,
		Drift: diffmodel.DriftThresholds{WarnPercent: cfg.Limits.DriftWarnPercent, FailPercent: cfg.Limits.DriftFailPercent},
	}, log)

	fmt.Printf("run %s: %d findings, %d posted, %d duplicates skipped, %d resolved, %d partially resolved, drift=%s\n",
		runID, summary.TotalFindings, summary.Posted, summary.DuplicatesSkipped, summary.Resolved, summary.PartiallyResolved, summary.DriftLevel)

	return err
}

// loadPathFilter builds the .reviewignore filter for repo, with any
// path_filters config entries appended as extra gitignore-style lines. A
// missing .reviewignore is a no-op, not an error.
func loadPathFilter(repo string, extra []string) (*pathfilter.Filter, error) {
	var body strings.Builder
	raw, err := os.ReadFile(filepath.Join(repo, ".reviewignore"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	body.Write(raw)
	for _, line := range extra {
		body.WriteString("\n")
		body.WriteString(line)
	}
	return pathfilter.Parse(strings.NewReader(body.String()))
}

// applyPathFilter drops files .reviewignore excludes before they reach the
// orchestrator, logging how many were filtered for the abort-summary event
// list.
func applyPathFilter(files []models.DiffFile, filter *pathfilter.Filter, log *logging.Logger) []models.DiffFile {
	kept := make([]models.DiffFile, 0, len(files))
	dropped := 0
	for _, f := range files {
		if filter.Allowed(f.Path) {
			kept = append(kept, f)
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		log.Record("reviewignore_filter", map[string]any{"dropped": dropped})
	}
	return kept
}

func snapshotEnv() agentpkg.Env {
	env := agentpkg.Env{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// buildOrchestrator constructs one Pass per config.PassConfig, resolving
// each listed agent id to a concrete Agent. Agent ids prefixed "static:"
// become a staticagent invoking the remainder of the id as a binary name;
// everything else becomes an llmagent using its per-agent model override
// if one is configured, else the configured default model.
func buildOrchestrator(cfg *config.Config, env agentpkg.Env, log *logging.Logger) *orchestrator.Orchestrator {
	cloudEnabled := anyCloudAgentEnabled(cfg)
	var passes []orchestrator.Pass
	for _, pc := range cfg.Passes {
		var agents []agentpkg.Agent
		for _, id := range pc.Agents {
			agents = append(agents, resolveAgent(id, cfg, env, cloudEnabled))
		}
		passes = append(passes, orchestrator.Pass{Name: pc.Name, Agents: agents, Enabled: pc.Enabled, Required: pc.Required})
	}

	limits := orchestrator.Limits{
		MaxFiles:           cfg.Limits.MaxFiles,
		MaxDiffLines:       cfg.Limits.MaxDiffLines,
		MaxEstimatedTokens: cfg.Limits.MaxEstimatedTokens,
		PerPRUSDCap:        cfg.Limits.PerPRUSDCap,
		MonthlyUSDCap:      cfg.Limits.MonthlyUSDCap,
	}

	return orchestrator.New(orchestrator.Config{
		Passes: passes,
		Limits: limits,
		EffectiveModel: func(agentID string) string {
			if m, ok := cfg.Models.PerAgent[agentID]; ok {
				return m
			}
			return cfg.Models.Default
		},
		MaxConcurrentLLMCalls: 4,
	}, cache.NewMemoryStore(), log)
}

// anyCloudAgentEnabled reports whether any enabled pass lists an agent
// that would run against a cloud provider — anything that is neither a
// static analyzer nor a "local:" Ollama agent. An ollama-shaped MODEL
// value only passes preflight when this is false.
func anyCloudAgentEnabled(cfg *config.Config) bool {
	for _, pc := range cfg.Passes {
		if !pc.Enabled {
			continue
		}
		for _, id := range pc.Agents {
			if strings.HasPrefix(id, "static:") || strings.HasPrefix(id, "local:") {
				continue
			}
			return true
		}
	}
	return false
}

func resolveAgent(id string, cfg *config.Config, env agentpkg.Env, cloudEnabled bool) agentpkg.Agent {
	if strings.HasPrefix(id, "static:") {
		bin := strings.TrimPrefix(id, "static:")
		return staticagent.New(id, bin, []string{"--json"}, []string{"go", "py", "js", "ts"})
	}
	model := cfg.Models.Default
	if m, ok := cfg.Models.PerAgent[id]; ok {
		model = m
	}
	// "local:" agents always run against Ollama; everything else resolves
	// through the provider precedence.
	provider := agentpkg.ProviderOllama
	if !strings.HasPrefix(id, "local:") {
		provider = agentpkg.ResolveProvider(agentpkg.ProviderNone, env, true)
	}
	return llmagent.New(id, model, provider, nil, "You are a thorough, precise code reviewer.", cloudEnabled)
}

// detectPlatform infers the hosting platform from the CI environment when
// --platform is not given: GITHUB_ACTIONS means GitHub, TF_BUILD means
// Azure DevOps. GitHub is the fallback outside any recognized CI.
func detectPlatform(env agentpkg.Env) string {
	switch {
	case env["GITHUB_ACTIONS"] != "":
		return "github"
	case env["TF_BUILD"] != "":
		return "ado"
	default:
		return "github"
	}
}

// prFromEnv assembles the PR identifier from CI-provided context when
// --pr is not given. On ADO the pipeline exposes the PR id and repository
// URI directly; on GitHub the workflow normally passes --pr explicitly.
func prFromEnv(platform string, env agentpkg.Env) string {
	if platform != "ado" {
		return ""
	}
	id := env["SYSTEM_PULLREQUEST_PULLREQUESTID"]
	if id == "" {
		return ""
	}
	uri := env["BUILD_REPOSITORY_URI"]
	// BUILD_REPOSITORY_URI looks like
	// https://dev.azure.com/org/project/_git/repo; the ADO client wants
	// org/project/repo/id.
	parts := strings.Split(strings.TrimPrefix(uri, "https://dev.azure.com/"), "/")
	if len(parts) >= 4 && parts[2] == "_git" {
		return parts[0] + "/" + parts[1] + "/" + parts[3] + "/" + id
	}
	return id
}

func buildHost(env agentpkg.Env) (report.ReviewHostClient, error) {
	switch flagPlatform {
	case "ado":
		token := env["SYSTEM_ACCESSTOKEN"]
		return ado.New(token), nil
	case "gitlab":
		baseURL := env["GITLAB_URL"]
		if baseURL == "" {
			baseURL = "https://gitlab.com"
		}
		token := env["GITLAB_TOKEN"]
		if token == "" {
			return nil, fmt.Errorf("GITLAB_TOKEN not set")
		}
		return gitlab.New(baseURL, token)
	default:
		token := env[agentpkg.EnvGitHubToken]
		if token == "" {
			return nil, fmt.Errorf("GITHUB_TOKEN not set")
		}
		return github.New(token), nil
	}
}

// loadDiff shells out to `git diff --numstat -z` and `git diff` between
// base and head inside repo, and assembles DiffFiles in two passes:
// numstat for file-level stats/renames, then per-file patch text for
// hunks.
func loadDiff(repo, base, head string) ([]models.DiffFile, error) {
	numstatOut, err := runGit(repo, "diff", "--numstat", "-z", base, head)
	if err != nil {
		return nil, err
	}
	records := parseNumstatZ(numstatOut)
	parsed := diffmodel.ParseNumstat(records)

	patchOut, err := runGit(repo, "diff", "--no-color", base, head)
	if err != nil {
		return nil, err
	}
	patchesByPath := splitPatchesByPath(patchOut)

	for i := range parsed.Files {
		df := &parsed.Files[i]
		patch, ok := patchesByPath[string(df.Path)]
		if !ok {
			continue
		}
		df.Hunks = diffmodel.ParseHunks(patch)
		if !df.IsBinary {
			df.Patch = patch
		}
		// numstat carries no added/deleted status; the extended patch
		// header does.
		if df.Status == models.StatusModified {
			switch {
			case strings.Contains(patch, "\nnew file mode ") || strings.HasPrefix(patch, "new file mode "):
				df.Status = models.StatusAdded
			case strings.Contains(patch, "\ndeleted file mode ") || strings.HasPrefix(patch, "deleted file mode "):
				df.Status = models.StatusDeleted
			}
		}
	}
	return parsed.Files, nil
}

func runGit(repo string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", repo}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// parseNumstatZ splits NUL-delimited `git diff --numstat -z` output into
// NumstatRecords. A plain record is one field holding "ADD\tDEL\tPATH"; a
// rename record is "ADD\tDEL\t" followed by the old and new paths as two
// further NUL-delimited fields.
func parseNumstatZ(raw string) []diffmodel.NumstatRecord {
	fields := strings.Split(strings.TrimRight(raw, "\x00"), "\x00")
	var records []diffmodel.NumstatRecord
	for i := 0; i < len(fields); i++ {
		if fields[i] == "" {
			continue
		}
		parts := strings.SplitN(fields[i], "\t", 3)
		if len(parts) == 3 && parts[2] == "" && i+2 < len(fields) {
			records = append(records, diffmodel.NumstatRecord{
				Additions: parts[0], Deletions: parts[1], IsRename: true,
				OldPath: fields[i+1], NewPath: fields[i+2],
			})
			i += 2
			continue
		}
		// Anything that doesn't fit either shape is passed through as-is;
		// ParseNumstat counts it as malformed rather than dropping it here.
		rec := diffmodel.NumstatRecord{Additions: parts[0]}
		if len(parts) > 1 {
			rec.Deletions = parts[1]
		}
		if len(parts) > 2 {
			rec.Path = parts[2]
		}
		records = append(records, rec)
	}
	return records
}

// splitPatchesByPath breaks a multi-file `git diff` body into per-path
// patch text, keyed by the new-side path each "diff --git a/X b/Y" header
// names.
func splitPatchesByPath(raw string) map[string]string {
	out := map[string]string{}
	lines := strings.Split(raw, "\n")
	var curPath string
	var buf strings.Builder
	flush := func() {
		if curPath != "" {
			out[curPath] = buf.String()
		}
		buf.Reset()
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			curPath = extractNewPath(line)
			continue
		}
		if curPath == "" {
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return out
}

func extractNewPath(header string) string {
	parts := strings.SplitN(header, " b/", 2)
	if len(parts) != 2 {
		return ""
	}
	return string(models.Canonicalize(parts[1]))
}
