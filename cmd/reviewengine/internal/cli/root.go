// Package cli wires the reviewengine Cobra command tree: "run",
// "validate-config", and a "report" subcommand that prints the line
// resolver's per-file diff shape (added and context line counts) for a
// ref pair without needing any agent configured.
package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	flagConfigPath string
	flagDryRun     bool
	flagRepo       string
	flagBase       string
	flagHead       string
	flagPR         string
	flagOwner      string
	flagRepoName   string
	flagPlatform   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewengine",
		Short:         "Run the odd-ai-reviewers review engine over a pull request",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootFlags := root.PersistentFlags()
	bindRootFlags(rootFlags)

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateConfigCmd())
	root.AddCommand(newReportCmd())
	return root
}

func bindRootFlags(flags *pflag.FlagSet) {
	flags.StringVar(&flagConfigPath, "config", "", "path to the TOML config file")
	flags.StringVar(&flagRepo, "repo", "", "local repository path")
	flags.StringVar(&flagBase, "base", "", "base ref/commit")
	flags.StringVar(&flagHead, "head", "", "head ref/commit")
	flags.StringVar(&flagPR, "pr", "", "PR identifier (owner/repo/number for GitHub, org/project/repo/id for ADO)")
	flags.StringVar(&flagOwner, "owner", "", "repository owner (GitHub only)")
	flags.StringVar(&flagRepoName, "repo-name", "", "repository name (GitHub only)")
	flags.StringVar(&flagPlatform, "platform", "", "hosting platform: github, ado, or gitlab (default: detected from CI environment)")
	flags.BoolVar(&flagDryRun, "dry-run", false, "run the review without posting comments")
}

// Execute builds the command tree and runs it; the "run" subcommand
// generates a run id via google/uuid so its log lines can be correlated
// to a single invocation.
func Execute() error {
	return newRootCmd().Execute()
}

func newRunID() string {
	return uuid.NewString()
}

func missingFlag(name string) error {
	return fmt.Errorf("--%s is required", name)
}
