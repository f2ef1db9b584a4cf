// Command corrharness drives a correlator engine through test suites.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/corrharness/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		// Run and test failures have already been reported on stdout.
		if cli.GetExitCode(err) != cli.ExitFailure {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
