package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oddessentials/odd-ai-reviewers/internal/diffmodel"
)

func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the line resolver's diff shape for --base..--head without running any agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagRepo == "" {
				return missingFlag("repo")
			}
			if flagBase == "" || flagHead == "" {
				return missingFlag("base/head")
			}
			files, err := loadDiff(flagRepo, flagBase, flagHead)
			if err != nil {
				return err
			}
			resolver := diffmodel.NewLineResolver(files)
			for _, f := range files {
				fmt.Println(resolver.GetFileSummary(f.Path))
			}
			return nil
		},
	}
}
