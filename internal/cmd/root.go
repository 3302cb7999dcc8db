// Package cmd implements the pish CLI: manual driving of the
// interactive-shell engine for a human sitting at a real terminal. It wires
// internal/config, internal/registry, internal/driverapi, and
// internal/overlay together the way the teacher's own cmd package wires
// config/daemon/session together, generalized from "attach to an h2 agent
// daemon over a socket" to "drive one PtySession in this process."
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-interactive-shell/internal/config"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pish",
		Short: "Supervise an interactive child process over a PTY",
		Long: `pish launches a command under a pseudo-terminal and supervises it:
an automated driver can inject keystrokes and poll output, while a human at
the terminal may at any time take over, scroll back, or detach the child to
keep running in the background.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig resolves and parses the engine configuration for cwd, warning
// to stderr on a malformed (but present) config file, per spec.md §6/§7.
func loadConfig(cwd string) config.Config {
	return config.Load(cwd, func(msg string) {
		fmt.Fprintln(os.Stderr, "pish: "+msg)
	})
}
