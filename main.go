// rangesync keeps local replicas of hash-linked chains in sync with an HTTP origin.
package main

import (
	"fmt"
	"os"

	"github.com/spacemeshos/go-rangesync/app"
	"github.com/spacemeshos/go-rangesync/cmd"
)

var (
	version string
	commit  string
	branch  string
)

func main() { // run the app
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch
	if err := app.GetCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
