package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/taxscope/internal/cli"
	"github.com/ledgerlens/taxscope/internal/config"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last checkpoint and tenant summary",
		RunE:  runStatus,
	}

	cmd.Flags().String("tenant", "", "tenant identifier (required)")
	cmd.Flags().String("platform", "xero", "source platform (xero, myob)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tenant, _ := cmd.Flags().GetString("tenant")
	platform, err := parsePlatform(cmd)
	if err != nil {
		return err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	checkpoint, err := store.ReadCheckpoint(ctx, tenant, platform)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	cli.PrintProgress(os.Stdout, checkpoint)

	summary, err := store.GetTenantSummary(ctx, tenant)
	if err != nil {
		return fmt.Errorf("failed to load tenant summary: %w", err)
	}

	fmt.Printf("\nTenant %s\n", tenant)
	fmt.Printf("  Results persisted:  %d\n", summary.ResultsPersisted)
	fmt.Printf("  Total spend:        $%s USD\n", summary.TotalSpentUSD)
	if len(summary.AlertsBySeverity) > 0 {
		fmt.Println("  Alerts:")
		for severity, count := range summary.AlertsBySeverity {
			fmt.Printf("    %-9s %d\n", severity, count)
		}
	}
	return nil
}
