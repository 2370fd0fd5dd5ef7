// Command filesync is the thin CLI front end over the reconciliation
// core: it loads profile documents, wires up the daemon-level
// settings, and dispatches to internal/sync, internal/scheduler, and
// client/conflicts. All format ownership (profile YAML, state JSON)
// stays in the packages that parse those documents; this command only
// resolves paths and renders output.
package main

import (
	"fmt"
	"os"

	"github.com/syncd/filesync/internal/config"
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "filesync: loading settings:", err)
		os.Exit(1)
	}

	root := newRootCmd(settings)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
