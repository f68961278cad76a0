package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerlens/taxscope/internal/config"
	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/source"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a bookkeeping CSV export",
		Long: `Parses a Xero or MYOB account transactions export and stores the
normalized transactions. Reimporting the same file is safe: rows already
present are skipped by content hash.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("tenant", "", "tenant identifier (required)")
	cmd.Flags().String("platform", "xero", "source platform (xero, myob)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
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

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = file.Close() }()

	txns, err := parseExport(file, platform, tenant)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	if len(txns) == 0 {
		fmt.Println("No transactions found in export.")
		return nil
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveTransactions(ctx, txns); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	fmt.Printf("Imported %d transactions for %s (%s).\n", len(txns), tenant, platform)
	return nil
}

func parseExport(reader io.Reader, platform model.Platform, tenant string) ([]model.Transaction, error) {
	switch platform {
	case model.PlatformMYOB:
		return source.NewMYOBParser().ParseFile(reader, tenant)
	default:
		return source.NewXeroParser().ParseFile(reader, tenant)
	}
}
