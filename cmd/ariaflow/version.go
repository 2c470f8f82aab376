package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kylegalloway/ariaflow/internal/preflight"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ariaflow version and the aria2c it would use",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ariaflow %s\n", version)
		if bin, err := preflight.LookPath(""); err == nil {
			fmt.Fprintf(out, "aria2c: %s\n", bin)
		} else {
			fmt.Fprintln(out, "aria2c: not found")
		}
	},
}
