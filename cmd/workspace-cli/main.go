// workspace-cli inspects and edits a persisted workspace without running
// the server. It reads and writes the same storage the server uses.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
