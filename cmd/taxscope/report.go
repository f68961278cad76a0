package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/taxscope/internal/config"
	"github.com/ledgerlens/taxscope/internal/report"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export analysis results as accountant CSV reports",
		Long: `Writes two CSV files for accountant review: a master list of every
analyzed transaction with its category, eligibility assessment, and claim
determination, and a priority list of high-value deductions (claims above
$500) sorted by claimable amount.`,
		RunE: runReport,
	}

	cmd.Flags().String("tenant", "", "tenant identifier (required)")
	cmd.Flags().String("platform", "xero", "source platform (xero, myob)")
	cmd.Flags().String("period", "", "financial year to export, e.g. FY2025 (default: all)")
	cmd.Flags().String("out", "reports", "directory to write report files into")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
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
	period, _ := cmd.Flags().GetString("period")
	outputDir, _ := cmd.Flags().GetString("out")

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	gen := report.NewGenerator(store, nil)
	stats, err := gen.Write(ctx, tenant, platform, period, outputDir)
	if err != nil {
		return err
	}

	for _, file := range stats.Files {
		fmt.Printf("Created: %s\n", file)
	}
	fmt.Printf("%d transactions exported, %d high-value deductions\n",
		stats.Transactions, stats.HighValue)
	return nil
}
