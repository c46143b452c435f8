// Command reviewengine is the thin CLI surface around the review engine.
// Everything it does beyond wiring flags to internal/engine.Run lives in
// the packages under internal/.
package main

import (
	"fmt"
	"os"

	"github.com/oddessentials/odd-ai-reviewers/cmd/reviewengine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
