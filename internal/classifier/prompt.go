package classifier

import (
	"fmt"
	"strings"

	"github.com/ledgerlens/taxscope/internal/model"
)

const analysisSystemPrompt = "You are an Australian tax deduction analyst. Assess business transactions against deductibility criteria and respond only with the JSON structure requested."

// buildAnalysisPrompt creates the prompt for deductibility analysis of a
// single transaction.
func buildAnalysisPrompt(txn model.Transaction, businessContext string) string {
	// Build criteria list
	criteriaList := ""
	for _, criterion := range model.EligibilityCriteria {
		criteriaList += fmt.Sprintf("- %s\n", criterion)
	}

	// Build transaction details, handling optional fields
	details := fmt.Sprintf("Date: %s\nAmount: %s AUD\nDescription: %s",
		txn.Date.Format("2006-01-02"),
		txn.Amount.StringFixed(2),
		txn.Description)

	if txn.Counterparty != "" {
		details += fmt.Sprintf("\nCounterparty: %s", txn.Counterparty)
	}

	if txn.AccountCode != "" {
		details += fmt.Sprintf("\nAccount Code: %s", txn.AccountCode)
	}

	if len(txn.LineItems) > 0 {
		lines := make([]string, 0, len(txn.LineItems))
		for _, li := range txn.LineItems {
			lines = append(lines, fmt.Sprintf("  - %s: %s", li.Description, li.Amount.StringFixed(2)))
		}
		details += "\nLine Items:\n" + strings.Join(lines, "\n")
	}

	contextSection := ""
	if businessContext != "" {
		contextSection = fmt.Sprintf("\nBusiness Context:\n%s\n", businessContext)
	}

	return fmt.Sprintf(`Analyze this business transaction for Australian income tax deductibility.

IMPORTANT GUIDELINES:
- Assess each criterion independently based on the transaction details provided
- Evidence must reference specific transaction details, not general tax principles
- Entertainment expenses are generally non-deductible even when business-related
- Capital purchases are not immediately deductible; flag them rather than claiming
- If documentation appears insufficient, say so rather than assuming receipts exist
%s
Criteria to assess:
%s
Transaction Details:
%s

Respond with a single JSON object in exactly this structure:
{
  "categories": [
    {"name": "<expense category>", "confidence": <0.0-1.0>}
  ],
  "eligibility": {
    "<criterion name>": {"met": <bool>, "confidence": <0.0-1.0>, "evidence": ["<specific observation>"]}
  },
  "flags": [
    {"code": "<short code>", "severity": "info|warning|critical", "detail": "<explanation>"}
  ],
  "deduction": {
    "claimable": <bool>,
    "amount": "<claimable amount as a decimal string>",
    "reasoning": "<1-2 sentence justification>"
  }
}

Include an entry in "eligibility" for every criterion listed above. Use an empty "flags" array when nothing needs attention.`,
		contextSection,
		criteriaList,
		details)
}
