// Package cmd implements commands for the oracle executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jefdiesel/appchain-ens/cmd/oracle"
)

var rootCmd = &cobra.Command{
	Use:   "appchain-ens",
	Short: "Name registry reconciliation oracle",
}

// Execute spawns the main entry point after handling the config file.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	for _, f := range []func(*cobra.Command){
		oracle.Register,
	} {
		f(rootCmd)
	}
}
