// Command pish is the manual-driving CLI for the interactive-shell engine:
// it wires internal/config, internal/registry, internal/driverapi, and
// internal/overlay together for a human sitting at a real terminal, the way
// the teacher's own cmd wires config/daemon/session together for h2.
package main

import (
	"fmt"
	"os"

	"github.com/nicobailon/pi-interactive-shell/internal/cmd"
)

func main() {
	root := cmd.NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
