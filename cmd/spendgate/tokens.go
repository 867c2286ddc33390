package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plateful/spendgate/adapters/clock"
	"github.com/plateful/spendgate/adapters/identity"
	"github.com/plateful/spendgate/adapters/idgen"
	"github.com/plateful/spendgate/adapters/sqlite"
	"github.com/plateful/spendgate/config"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage API tokens",
	Long: `Manage spendgate API tokens for token identity mode.

The raw token is printed once at creation and cannot be recovered
afterwards; only a hash is stored.

Examples:
  spendgate tokens create --user=alice
  spendgate tokens revoke cred_abc123`,
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API token",
	RunE:  runTokensCreate,
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <credential-id>",
	Short: "Revoke an API token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokensRevoke,
}

var tokenUserID string

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.AddCommand(tokensCreateCmd)
	tokensCmd.AddCommand(tokensRevokeCmd)

	tokensCreateCmd.Flags().StringVar(&tokenUserID, "user", "", "user ID (required)")
	tokensCreateCmd.MarkFlagRequired("user")
}

func runTokensCreate(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	credStore := sqlite.NewCredentialStore(db)

	raw, cred, err := identity.Mint(idgen.UUID{}.New(), tokenUserID, clock.Real{})
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	if err := credStore.Create(context.Background(), cred); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	fmt.Printf("Token created for %s\n", tokenUserID)
	fmt.Printf("  ID:    %s\n", cred.ID)
	fmt.Printf("  Token: %s\n", raw)
	fmt.Println()
	fmt.Println("Save the token now. It will not be shown again.")
	return nil
}

func runTokensRevoke(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	credStore := sqlite.NewCredentialStore(db)

	now := clock.Real{}.Now()
	if err := credStore.Revoke(context.Background(), args[0], now); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	fmt.Printf("Token %s revoked.\n", args[0])
	return nil
}

func openDatabase() (*sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
