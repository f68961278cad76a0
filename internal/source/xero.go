package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/taxscope/internal/model"
)

// XeroParser reads a Xero account transactions CSV export.
type XeroParser struct{}

// NewXeroParser creates a new Xero CSV parser.
func NewXeroParser() *XeroParser {
	return &XeroParser{}
}

// Xero exports dates as DD/MM/YYYY.
const xeroDateLayout = "02/01/2006"

// ParseFile parses a Xero CSV export into canonical transactions for a
// tenant. Rows that cannot be parsed are logged and skipped rather than
// failing the whole import.
func (p *XeroParser) ParseFile(reader io.Reader, tenant string) ([]model.Transaction, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := indexColumns(header)
	for _, required := range []string{"date", "amount", "description"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("xero export missing %q column", required)
		}
	}

	var transactions []model.Transaction
	line := 1

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("skipping malformed CSV row", "line", line, "error", err)
			continue
		}

		txn, err := p.parseRow(record, cols, tenant)
		if err != nil {
			slog.Warn("skipping unparseable transaction", "line", line, "error", err)
			continue
		}
		transactions = append(transactions, txn)
	}

	return transactions, nil
}

func (p *XeroParser) parseRow(record []string, cols map[string]int, tenant string) (model.Transaction, error) {
	date, err := time.Parse(xeroDateLayout, field(record, cols, "date"))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid date: %w", err)
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(field(record, cols, "amount"), ",", ""))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid amount: %w", err)
	}

	txn := model.Transaction{
		ID:           field(record, cols, "transaction id"),
		Tenant:       tenant,
		Platform:     model.PlatformXero,
		Date:         date,
		Description:  field(record, cols, "description"),
		Counterparty: field(record, cols, "payee"),
		AccountCode:  field(record, cols, "account code"),
		Amount:       amount,
	}

	if txn.Description == "" {
		return model.Transaction{}, fmt.Errorf("empty description")
	}

	txn.Hash = txn.GenerateHash()
	if txn.ID == "" {
		// Older exports omit the transaction ID column.
		txn.ID = txn.Hash[:16]
	}

	return txn, nil
}

// indexColumns maps lowercased header names to their positions. Xero
// prefixes required columns with an asterisk in some export formats.
func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "*")))
		cols[name] = i
	}
	return cols
}

func field(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
