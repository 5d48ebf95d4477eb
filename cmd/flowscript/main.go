// Command flowscript loads, checks and runs node graphs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/flowscript/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
