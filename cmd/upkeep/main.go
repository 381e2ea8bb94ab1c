// Command upkeep runs batched, interval-gated resource maintenance.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/upkeep/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "upkeep: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
