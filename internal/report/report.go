// Package report exports persisted analysis results as accountant-facing
// CSV files that can be cross-referenced against the source ledger.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/model"
)

// highValueThreshold is the claimable amount above which a deduction lands
// on the priority report.
var highValueThreshold = decimal.NewFromInt(500)

// Store is the storage surface the generator reads from.
type Store interface {
	GetTransactions(ctx context.Context, tenant string, platform model.Platform, period string) ([]model.Transaction, error)
	GetResults(ctx context.Context, tenant string, platform model.Platform) ([]model.AnalysisResult, error)
}

// reportRow pairs a transaction with its persisted analysis.
type reportRow struct {
	txn    model.Transaction
	result model.AnalysisResult
}

// Stats summarizes what a report pass produced.
type Stats struct {
	Files        []string
	Transactions int
	HighValue    int
}

// Generator renders accountant CSV reports from persisted results.
type Generator struct {
	store  Store
	logger *slog.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(store Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:  store,
		logger: logger.With("component", "report"),
	}
}

// Write renders the master transaction report and the high-value deduction
// report for a scope into outputDir. Transactions without a persisted result
// are skipped: the reports cover analyzed work only.
func (g *Generator) Write(ctx context.Context, tenant string, platform model.Platform, period, outputDir string) (*Stats, error) {
	txns, err := g.store.GetTransactions(ctx, tenant, platform, period)
	if err != nil {
		return nil, fmt.Errorf("fetching transactions: %w", err)
	}

	results, err := g.store.GetResults(ctx, tenant, platform)
	if err != nil {
		return nil, fmt.Errorf("fetching results: %w", err)
	}

	byID := make(map[string]model.AnalysisResult, len(results))
	for _, r := range results {
		byID[r.TransactionID] = r
	}

	rows := make([]reportRow, 0, len(txns))
	for _, txn := range txns {
		result, ok := byID[txn.ID]
		if !ok {
			continue
		}
		rows = append(rows, reportRow{txn: txn, result: result})
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	masterPath := filepath.Join(outputDir, fmt.Sprintf("%s_all_transactions.csv", tenant))
	if err := writeCSV(masterPath, masterHeader, masterRecords(rows)); err != nil {
		return nil, err
	}

	highValue := filterHighValue(rows)
	highValuePath := filepath.Join(outputDir, fmt.Sprintf("%s_high_value_deductions.csv", tenant))
	if err := writeCSV(highValuePath, highValueHeader, highValueRecords(highValue)); err != nil {
		return nil, err
	}

	stats := &Stats{
		Files:        []string{masterPath, highValuePath},
		Transactions: len(rows),
		HighValue:    len(highValue),
	}

	g.logger.Info("reports written",
		"tenant", tenant,
		"platform", platform,
		"transactions", stats.Transactions,
		"high_value", stats.HighValue,
		"dir", outputDir)

	return stats, nil
}

var masterHeader = []string{
	"Financial Year", "Date", "Transaction ID", "Counterparty", "Amount",
	"Description", "Category", "Category Confidence",
	"Claimable", "Claimable Amount", "Reasoning",
	"Ordinary Expense", "Sufficient Documentation", "Apportionment Required",
	"Capital vs Revenue", "Entertainment Exclusion",
	"Compliance Notes",
}

func masterRecords(rows []reportRow) [][]string {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		category, confidence := topCategory(&row.result)
		records = append(records, []string{
			model.FinancialYear(row.txn.Date),
			row.txn.Date.Format("2006-01-02"),
			row.txn.ID,
			row.txn.Counterparty,
			row.txn.Amount.StringFixed(2),
			truncate(row.txn.Description, 100),
			category,
			confidence,
			yesNo(row.result.Deduction.Claimable),
			row.result.Deduction.Amount.StringFixed(2),
			truncate(row.result.Deduction.Reasoning, 150),
			yesNo(row.result.Eligibility[model.CriterionOrdinaryExpense].Met),
			yesNo(row.result.Eligibility[model.CriterionDocumentation].Met),
			yesNo(row.result.Eligibility[model.CriterionApportionment].Met),
			yesNo(row.result.Eligibility[model.CriterionCapitalVsRevenue].Met),
			yesNo(row.result.Eligibility[model.CriterionEntertainment].Met),
			truncate(complianceNotes(row.result.Flags), 200),
		})
	}
	return records
}

var highValueHeader = []string{
	"Priority", "Financial Year", "Date", "Counterparty", "Amount",
	"Claimable Amount", "Category", "Category Confidence",
	"Transaction ID", "Documentation Required", "Notes",
}

func highValueRecords(rows []reportRow) [][]string {
	records := make([][]string, 0, len(rows))
	for i, row := range rows {
		category, confidence := topCategory(&row.result)
		records = append(records, []string{
			fmt.Sprintf("%d", i+1),
			model.FinancialYear(row.txn.Date),
			row.txn.Date.Format("2006-01-02"),
			row.txn.Counterparty,
			row.txn.Amount.StringFixed(2),
			row.result.Deduction.Amount.StringFixed(2),
			category,
			confidence,
			row.txn.ID,
			yesNo(!row.result.Eligibility[model.CriterionDocumentation].Met),
			truncate(complianceNotes(row.result.Flags), 150),
		})
	}
	return records
}

// filterHighValue keeps claimable deductions above the threshold, largest
// first.
func filterHighValue(rows []reportRow) []reportRow {
	var highValue []reportRow
	for _, row := range rows {
		if row.result.Deduction.Claimable && row.result.Deduction.Amount.GreaterThan(highValueThreshold) {
			highValue = append(highValue, row)
		}
	}

	sort.SliceStable(highValue, func(i, j int) bool {
		return highValue[i].result.Deduction.Amount.GreaterThan(highValue[j].result.Deduction.Amount)
	})
	return highValue
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	for _, record := range records {
		if err := w.Write(record); err != nil {
			_ = f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return f.Close()
}

func topCategory(result *model.AnalysisResult) (name, confidence string) {
	top := result.TopCategory()
	if top == nil {
		return "", ""
	}
	return top.Name, fmt.Sprintf("%.2f", top.Confidence)
}

func complianceNotes(flags []model.ComplianceFlag) string {
	notes := make([]string, 0, len(flags))
	for _, flag := range flags {
		notes = append(notes, fmt.Sprintf("%s: %s", flag.Code, flag.Detail))
	}
	return strings.Join(notes, "; ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
