// Command agent-wallet reconciles agent capability grants on a
// smart-account relay.
package main

import (
	"fmt"
	"os"

	"github.com/jeanregisser/agent-wallet/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
