package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/plateful/spendgate/adapters/clock"
	"github.com/plateful/spendgate/adapters/idgen"
	"github.com/plateful/spendgate/adapters/sqlite"
	"github.com/plateful/spendgate/app"
	"github.com/plateful/spendgate/config"
	"github.com/plateful/spendgate/domain/budget"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and adjust budgets",
	Long: `Inspect and adjust per-user budgets.

Examples:
  spendgate budget show --user=alice
  spendgate budget set --user=alice --daily=5.00
  spendgate budget status --user=alice`,
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a user's budget",
	RunE:  runBudgetShow,
}

var budgetSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update a user's budget limits",
	RunE:  runBudgetSet,
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a user's current spend against limits",
	RunE:  runBudgetStatus,
}

var (
	budgetUserID  string
	budgetDaily   float64
	budgetWeekly  float64
	budgetMonthly float64
)

func init() {
	rootCmd.AddCommand(budgetCmd)

	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	budgetCmd.AddCommand(budgetStatusCmd)

	for _, c := range []*cobra.Command{budgetShowCmd, budgetSetCmd, budgetStatusCmd} {
		c.Flags().StringVar(&budgetUserID, "user", "", "user ID (required)")
		c.MarkFlagRequired("user")
	}
	budgetSetCmd.Flags().Float64Var(&budgetDaily, "daily", 0, "daily limit in USD")
	budgetSetCmd.Flags().Float64Var(&budgetWeekly, "weekly", 0, "weekly limit in USD")
	budgetSetCmd.Flags().Float64Var(&budgetMonthly, "monthly", 0, "monthly limit in USD")
}

func runBudgetShow(cmd *cobra.Command, args []string) error {
	svc, db, _, err := budgetServices()
	if err != nil {
		return err
	}
	defer db.Close()

	b, err := svc.Get(context.Background(), budgetUserID)
	if err != nil {
		return fmt.Errorf("get budget: %w", err)
	}

	printBudget(b)
	return nil
}

func runBudgetSet(cmd *cobra.Command, args []string) error {
	svc, db, _, err := budgetServices()
	if err != nil {
		return err
	}
	defer db.Close()

	var u budget.Update
	if cmd.Flags().Changed("daily") {
		u.DailyLimit = &budgetDaily
	}
	if cmd.Flags().Changed("weekly") {
		u.WeeklyLimit = &budgetWeekly
	}
	if cmd.Flags().Changed("monthly") {
		u.MonthlyLimit = &budgetMonthly
	}

	b, err := svc.Update(context.Background(), budgetUserID, u)
	if err != nil {
		return fmt.Errorf("update budget: %w", err)
	}

	fmt.Println("Budget updated")
	printBudget(b)
	return nil
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	_, db, quotas, err := budgetServices()
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	st, err := quotas.Status(context.Background(), budgetUserID, cfg.Pricing.MinCost())
	if err != nil {
		return fmt.Errorf("budget status: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WINDOW\tUSED\tLIMIT\tREMAINING\tPERCENT")
	fmt.Fprintln(w, "------\t----\t-----\t---------\t-------")
	for _, u := range []struct {
		name                           string
		used, limit, remaining, percent float64
	}{
		{"daily", st.Usage.Daily.Used, st.Usage.Daily.Limit, st.Usage.Daily.Remaining, st.Usage.Daily.Percent},
		{"weekly", st.Usage.Weekly.Used, st.Usage.Weekly.Limit, st.Usage.Weekly.Remaining, st.Usage.Weekly.Percent},
		{"monthly", st.Usage.Monthly.Used, st.Usage.Monthly.Limit, st.Usage.Monthly.Remaining, st.Usage.Monthly.Percent},
	} {
		fmt.Fprintf(w, "%s\t$%.2f\t$%.2f\t$%.2f\t%.1f%%\n", u.name, u.used, u.limit, u.remaining, u.percent)
	}
	w.Flush()

	if st.Paused {
		fmt.Printf("\nPaused: %s limit reached\n", st.PausedBy)
	}
	return nil
}

func printBudget(b budget.Budget) {
	fmt.Printf("  User:            %s\n", b.UserID)
	fmt.Printf("  Daily limit:     $%.2f\n", b.DailyLimit)
	fmt.Printf("  Weekly limit:    $%.2f\n", b.WeeklyLimit)
	fmt.Printf("  Monthly limit:   $%.2f\n", b.MonthlyLimit)
	fmt.Printf("  Alert threshold: %.0f%%\n", b.AlertThreshold)
	fmt.Printf("  Auto pause:      %t\n", b.AutoPause)
	fmt.Printf("  Pause at limit:  %t\n", b.PauseAtLimit)
}

// budgetServices wires the stores and services needed by budget commands.
func budgetServices() (*app.BudgetService, *sqlite.DB, *app.QuotaService, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := openDatabase()
	if err != nil {
		return nil, nil, nil, err
	}

	clk := clock.Real{}
	budgets := sqlite.NewBudgetStore(db)
	ledgerStore := sqlite.NewLedgerStore(db)

	defaults := budget.Defaults{
		DailyLimit:     cfg.Budgets.DefaultDaily,
		WeeklyLimit:    cfg.Budgets.DefaultWeekly,
		MonthlyLimit:   cfg.Budgets.DefaultMonthly,
		AlertThreshold: cfg.Budgets.AlertThreshold,
		AutoPause:      cfg.Budgets.AutoPause,
		PauseAtLimit:   cfg.Budgets.PauseAtLimit,
	}
	limits := budget.Limits{
		Daily:   budget.Bounds{Min: cfg.Budgets.MinDaily, Max: cfg.Budgets.MaxDaily},
		Weekly:  budget.Bounds{Min: cfg.Budgets.MinWeekly, Max: cfg.Budgets.MaxWeekly},
		Monthly: budget.Bounds{Min: cfg.Budgets.MinMonthly, Max: cfg.Budgets.MaxMonthly},
	}

	budgetSvc := app.NewBudgetService(app.BudgetDeps{
		Budgets: budgets,
		Clock:   clk,
		Logger:  zerolog.Nop(),
	}, app.BudgetConfig{Defaults: defaults, Limits: limits})

	quotaSvc := app.NewQuotaService(app.QuotaDeps{
		Budgets: budgets,
		Ledger:  ledgerStore,
		Clock:   clk,
		IDGen:   idgen.UUID{},
		Logger:  zerolog.Nop(),
	}, app.QuotaConfig{
		Defaults:       defaults,
		ReservationTTL: cfg.Reservations.TTL,
	})

	return budgetSvc, db, quotaSvc, nil
}
