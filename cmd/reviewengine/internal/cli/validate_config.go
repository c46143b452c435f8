package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oddessentials/odd-ai-reviewers/internal/config"
)

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the config file named by --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfigPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: %d pass(es), default model %q\n", len(cfg.Passes), cfg.Models.Default)
			return nil
		},
	}
}
