package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plateful/spendgate/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the budget governance server",
	Long: `Start the spendgate HTTP server.

The server will:
  - Load configuration from spendgate.yaml (or --config)
  - Or load configuration from SPENDGATE_* environment variables
  - Connect to the database and run migrations
  - Serve the reservation, budget, alert, and analytics API
  - Run the background health watchdog if enabled

Environment variables (for Docker deployments):
  SPENDGATE_DATABASE_DSN     - Database path (default: spendgate.db)
  SPENDGATE_SERVER_PORT      - Server port (default: 8080)
  SPENDGATE_IDENTITY_MODE    - Identity mode: static or token
  SPENDGATE_BUDGET_DAILY     - Default daily limit in USD
  SPENDGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  spendgate serve
  spendgate serve --config /etc/spendgate/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if _, err := os.Stat(path); err != nil {
		// No config file. Environment variables alone are enough since
		// every setting has a usable default.
		path = ""
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(path)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	return app.Run()
}
