package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-interactive-shell/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pish version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("pish " + version.DisplayVersion())
			return nil
		},
	}
}
