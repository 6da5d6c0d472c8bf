// Package cmd implements the batmand command-line interface: run the
// routing agent, write a starter config, and inspect a running agent's
// live routing table. Grounded on the teacher's cmd/root.go cobra
// scaffolding.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "batmand",
	Short: "BATMAN IV routing agent",
	Long:  `batmand runs a B.A.T.M.A.N. IV originator-message routing agent on one network interface.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
