package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spendgate",
	Short: "Budget governance for metered generation spend",
	Long: `Spendgate tracks generation spend against daily, weekly, and
monthly budgets, holds capacity for in-flight work, and pauses
users who run over their limits.

Quick start:
  spendgate serve     # Start the HTTP API
  spendgate validate  # Validate configuration

Management:
  spendgate budget    # Inspect and adjust budgets
  spendgate tokens    # Manage API tokens`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "spendgate.yaml", "config file path")
}
