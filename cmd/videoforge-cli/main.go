// Command videoforge-cli is the operator-facing command line tool for
// validating router configs and submitting one-shot generation requests
// against a running videoforge-server.
package main

import (
	"os"

	"github.com/ferro-labs/videoforge/cmd/videoforge-cli/cmd"
)

func main() {
	if err := cmd.Root().Execute(); err != nil {
		os.Exit(1)
	}
}
