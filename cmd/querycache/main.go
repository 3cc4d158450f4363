// Command querycache inspects and maintains the querycache persistent file
// store.
package main

import (
	"os"

	"github.com/rshade/querycache/internal/cli"
	"github.com/rshade/querycache/pkg/version"
)

func main() {
	os.Exit(run())
}

// run executes the root command and maps the outcome to an exit code.
// Cobra already printed the error by the time Execute returns.
func run() int {
	root := cli.NewRootCmd(version.GetVersion())
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
