package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plateful/spendgate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the spendgate configuration file and print a summary.

Examples:
  spendgate validate
  spendgate validate --config /etc/spendgate/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid")
	fmt.Printf("  Database:      %s\n", cfg.Database.DSN)
	fmt.Printf("  Identity mode: %s\n", cfg.Identity.Mode)
	fmt.Printf("  Daily default: $%.2f\n", cfg.Budgets.DefaultDaily)
	fmt.Printf("  Hold TTL:      %s\n", cfg.Reservations.TTL)
	fmt.Printf("  Pricing tiers: %d\n", len(cfg.Pricing.Costs))
	return nil
}
