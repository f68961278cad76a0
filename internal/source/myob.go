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

// MYOBParser reads a MYOB account transactions CSV export.
type MYOBParser struct{}

// NewMYOBParser creates a new MYOB CSV parser.
func NewMYOBParser() *MYOBParser {
	return &MYOBParser{}
}

const myobDateLayout = "2/01/2006"

// ParseFile parses a MYOB CSV export into canonical transactions for a
// tenant. MYOB splits amounts into debit and credit columns; expenses land
// in the debit column and the canonical amount is debit minus credit.
func (p *MYOBParser) ParseFile(reader io.Reader, tenant string) ([]model.Transaction, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := indexColumns(header)
	for _, required := range []string{"date", "memo"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("myob export missing %q column", required)
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

func (p *MYOBParser) parseRow(record []string, cols map[string]int, tenant string) (model.Transaction, error) {
	date, err := time.Parse(myobDateLayout, field(record, cols, "date"))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid date: %w", err)
	}

	debit, err := parseMYOBAmount(field(record, cols, "debit amount"))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid debit amount: %w", err)
	}
	credit, err := parseMYOBAmount(field(record, cols, "credit amount"))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid credit amount: %w", err)
	}

	txn := model.Transaction{
		ID:           field(record, cols, "id no."),
		Tenant:       tenant,
		Platform:     model.PlatformMYOB,
		Date:         date,
		Description:  field(record, cols, "memo"),
		Counterparty: field(record, cols, "co./last name"),
		AccountCode:  field(record, cols, "account no."),
		Amount:       debit.Sub(credit),
	}

	if txn.Description == "" {
		return model.Transaction{}, fmt.Errorf("empty memo")
	}

	txn.Hash = txn.GenerateHash()
	if txn.ID == "" {
		txn.ID = txn.Hash[:16]
	}

	return txn, nil
}

// parseMYOBAmount handles MYOB's currency formatting: "$1,234.56" and blank
// cells meaning zero.
func parseMYOBAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(raw, "$", ""), ",", ""))
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
