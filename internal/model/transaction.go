// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies the bookkeeping platform a transaction was sourced from.
type Platform string

// Supported source platforms.
const (
	PlatformXero Platform = "xero"
	PlatformMYOB Platform = "myob"
)

// LineItem is a single line of a source transaction.
type LineItem struct {
	Description string
	AccountCode string
	Amount      decimal.Decimal
	TaxType     string
}

// Transaction is the canonical shape for a financial record from any
// platform. Per-platform adapters produce it at the boundary; nothing
// downstream inspects platform-specific field names.
type Transaction struct {
	Date         time.Time
	ID           string
	Tenant       string
	Platform     Platform
	Description  string
	Counterparty string
	AccountCode  string
	Hash         string
	LineItems    []LineItem
	Amount       decimal.Decimal
}

// FinancialYear labels a date with its Australian financial year, which ends
// 30 June. A transaction on 2024-07-01 belongs to FY2025.
func FinancialYear(date time.Time) string {
	year := date.Year()
	if date.Month() >= time.July {
		year++
	}
	return fmt.Sprintf("FY%d", year)
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.Tenant,
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.Counterparty,
		t.Description)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
