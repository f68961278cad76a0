package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Eligibility criterion names. The classifier assesses each of these for
// every transaction; the set is fixed so downstream reports can rely on it.
const (
	CriterionOrdinaryExpense  = "ordinary_business_expense"
	CriterionDocumentation    = "sufficient_documentation"
	CriterionApportionment    = "apportionment_required"
	CriterionCapitalVsRevenue = "capital_vs_revenue"
	CriterionEntertainment    = "entertainment_exclusion"
)

// EligibilityCriteria lists every criterion the classifier must assess.
var EligibilityCriteria = []string{
	CriterionOrdinaryExpense,
	CriterionDocumentation,
	CriterionApportionment,
	CriterionCapitalVsRevenue,
	CriterionEntertainment,
}

// CategoryLabel is a single category assignment with confidence.
type CategoryLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Criterion is the classifier's assessment of one named eligibility criterion.
type Criterion struct {
	Met        bool     `json:"met"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// FlagSeverity grades a compliance flag.
type FlagSeverity string

// Compliance flag severities.
const (
	SeverityInfo     FlagSeverity = "info"
	SeverityWarning  FlagSeverity = "warning"
	SeverityCritical FlagSeverity = "critical"
)

// ComplianceFlag marks a tax-risk concern raised by the classifier.
type ComplianceFlag struct {
	Code     string       `json:"code"`
	Severity FlagSeverity `json:"severity"`
	Detail   string       `json:"detail"`
}

// Deduction is the classifier's claim determination for a transaction.
type Deduction struct {
	Claimable bool            `json:"claimable"`
	Amount    decimal.Decimal `json:"amount"`
	Reasoning string          `json:"reasoning"`
}

// TokenUsage records the tokens consumed by one classifier call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnalysisResult is the classifier's structured output for one transaction.
// The core only transports and persists it.
type AnalysisResult struct {
	AnalyzedAt    time.Time            `json:"analyzed_at"`
	TransactionID string               `json:"transaction_id"`
	Tenant        string               `json:"tenant"`
	Platform      Platform             `json:"platform"`
	Categories    []CategoryLabel      `json:"categories"`
	Eligibility   map[string]Criterion `json:"eligibility"`
	Deduction     Deduction            `json:"deduction"`
	Flags         []ComplianceFlag     `json:"flags,omitempty"`
	Usage         TokenUsage           `json:"usage"`
}

// TopCategory returns the highest-confidence category label, or nil when the
// classifier returned none.
func (r *AnalysisResult) TopCategory() *CategoryLabel {
	if len(r.Categories) == 0 {
		return nil
	}
	top := &r.Categories[0]
	for i := range r.Categories[1:] {
		if r.Categories[i+1].Confidence > top.Confidence {
			top = &r.Categories[i+1]
		}
	}
	return top
}
