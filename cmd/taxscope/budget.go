package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ledgerlens/taxscope/internal/config"
)

func budgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show recorded spend against the configured budget",
		RunE:  runBudget,
	}

	cmd.Flags().String("tenant", "", "tenant identifier (required)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runBudget(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	spent, err := store.SumCost(ctx, tenant)
	if err != nil {
		return fmt.Errorf("failed to sum recorded cost: %w", err)
	}

	remaining := cfg.Budget.MaxCostUSD.Sub(spent)
	fmt.Printf("Tenant %s\n", tenant)
	fmt.Printf("  Spent:      $%s USD\n", spent.StringFixed(4))
	fmt.Printf("  Ceiling:    $%s USD\n", cfg.Budget.MaxCostUSD.StringFixed(2))
	fmt.Printf("  Remaining:  $%s USD\n", remaining.StringFixed(4))
	fmt.Printf("  Hard stop:  %v\n", cfg.Budget.HardStopEnabled)

	if cfg.Budget.MaxCostUSD.IsPositive() {
		percent, _ := spent.Div(cfg.Budget.MaxCostUSD).Mul(decimal.NewFromInt(100)).Float64()
		fmt.Printf("  Used:       %.1f%%\n", percent)
	}
	return nil
}
