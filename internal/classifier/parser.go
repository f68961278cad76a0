package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

// analysisPayload is the wire shape the prompt asks the model to produce.
type analysisPayload struct {
	Categories  []model.CategoryLabel      `json:"categories"`
	Eligibility map[string]model.Criterion `json:"eligibility"`
	Flags       []model.ComplianceFlag     `json:"flags"`
	Deduction   model.Deduction            `json:"deduction"`
}

// parseAnalysisResponse decodes the model's JSON output into an
// AnalysisResult. Parse failures are permanent: retrying the same content
// cannot succeed, so they are tagged non-retryable.
func parseAnalysisResponse(content string) (*model.AnalysisResult, error) {
	content = stripMarkdownFences(content)
	if content == "" {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("%w: empty response content", common.ErrPermanentClassification),
			Retryable: false,
		}
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("%w: parsing analysis JSON: %w", common.ErrPermanentClassification, err),
			Retryable: false,
		}
	}

	if err := validatePayload(payload); err != nil {
		return nil, &common.RetryableError{
			Err:       fmt.Errorf("%w: %w", common.ErrPermanentClassification, err),
			Retryable: false,
		}
	}

	return &model.AnalysisResult{
		Categories:  payload.Categories,
		Eligibility: payload.Eligibility,
		Flags:       payload.Flags,
		Deduction:   payload.Deduction,
	}, nil
}

func validatePayload(p analysisPayload) error {
	if len(p.Categories) == 0 {
		return fmt.Errorf("response contains no categories")
	}

	for _, cat := range p.Categories {
		if cat.Confidence < 0 || cat.Confidence > 1 {
			return fmt.Errorf("category %q has confidence %f outside [0, 1]", cat.Name, cat.Confidence)
		}
	}

	for _, criterion := range model.EligibilityCriteria {
		assessment, ok := p.Eligibility[criterion]
		if !ok {
			return fmt.Errorf("response missing criterion %q", criterion)
		}
		if assessment.Confidence < 0 || assessment.Confidence > 1 {
			return fmt.Errorf("criterion %q has confidence %f outside [0, 1]", criterion, assessment.Confidence)
		}
	}

	for _, flag := range p.Flags {
		switch flag.Severity {
		case model.SeverityInfo, model.SeverityWarning, model.SeverityCritical:
		default:
			return fmt.Errorf("flag %q has unknown severity %q", flag.Code, flag.Severity)
		}
	}

	if p.Deduction.Amount.IsNegative() {
		return fmt.Errorf("deduction amount %s is negative", p.Deduction.Amount)
	}

	return nil
}

// stripMarkdownFences removes a surrounding ```json ... ``` wrapper that
// models sometimes emit despite instructions, and trims to the outermost
// JSON object when the model adds prose around it.
func stripMarkdownFences(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}

	return content
}
