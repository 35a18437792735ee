// Command minq manages the indexes of minq collections and serves an admin
// HTTP endpoint for health, metrics and reconciliation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	envName    string
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "minq",
	Short: "minq - index reconciliation and admin server for minq collections",
	Long: `minq reads collection and index declarations from config/{env}.yaml and
reconciles them against the database.

Examples:
  # Reconcile every configured collection
  minq reconcile

  # List the indexes of one collection
  minq indexes people

  # Run the admin server
  ENV=prod minq serve`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envName, "env", "e", "", "Environment (default: $ENV or local)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (overrides --env lookup)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug|info|warn|error")

	rootCmd.AddCommand(newReconcileCmd(), newIndexesCmd(), newServeCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
