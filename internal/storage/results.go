package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

// maxSQLParams keeps IN clauses below SQLite's bound-parameter ceiling.
const maxSQLParams = 500

// UpsertResults persists a batch of analysis results as a single
// transaction, keyed by (tenant, transaction_id). If the same transaction ID
// appears twice within the batch the last occurrence wins; duplicates are
// logged, not errored.
func (s *SQLiteStorage) UpsertResults(ctx context.Context, results []model.AnalysisResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}

	deduped := dedupeResults(results)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", common.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO analysis_results (
			tenant, transaction_id, platform, analyzed_at,
			categories, eligibility, deduction, flags,
			input_tokens, output_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, transaction_id) DO UPDATE SET
			platform = excluded.platform,
			analyzed_at = excluded.analyzed_at,
			categories = excluded.categories,
			eligibility = excluded.eligibility,
			deduction = excluded.deduction,
			flags = excluded.flags,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %w", common.ErrPersistence, err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range deduped {
		result := &deduped[i]
		if err := validateResult(result); err != nil {
			return err
		}
		if result.AnalyzedAt.IsZero() {
			result.AnalyzedAt = time.Now()
		}

		categories, eligibility, deduction, flags, marshalErr := marshalResult(result)
		if marshalErr != nil {
			return marshalErr
		}

		if _, err := stmt.ExecContext(ctx,
			result.Tenant,
			result.TransactionID,
			string(result.Platform),
			result.AnalyzedAt,
			categories,
			eligibility,
			deduction,
			flags,
			result.Usage.InputTokens,
			result.Usage.OutputTokens,
		); err != nil {
			return fmt.Errorf("%w: failed to upsert result for %s: %w",
				common.ErrPersistence, result.TransactionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit results: %w", common.ErrPersistence, err)
	}
	return nil
}

// dedupeResults collapses repeated transaction IDs, keeping the last
// occurrence. Should not happen, but is defensively handled.
func dedupeResults(results []model.AnalysisResult) []model.AnalysisResult {
	seen := make(map[string]int, len(results))
	deduped := make([]model.AnalysisResult, 0, len(results))

	for _, result := range results {
		key := result.Tenant + ":" + result.TransactionID
		if idx, ok := seen[key]; ok {
			slog.Warn("duplicate transaction ID in result batch, keeping last occurrence",
				"tenant", result.Tenant,
				"transaction_id", result.TransactionID)
			deduped[idx] = result
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, result)
	}

	return deduped
}

func marshalResult(result *model.AnalysisResult) (categories, eligibility, deduction, flags string, err error) {
	data, err := json.Marshal(result.Categories)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal categories: %w", err)
	}
	categories = string(data)

	data, err = json.Marshal(result.Eligibility)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal eligibility: %w", err)
	}
	eligibility = string(data)

	data, err = json.Marshal(result.Deduction)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal deduction: %w", err)
	}
	deduction = string(data)

	if len(result.Flags) > 0 {
		data, err = json.Marshal(result.Flags)
		if err != nil {
			return "", "", "", "", fmt.Errorf("failed to marshal flags: %w", err)
		}
		flags = string(data)
	}

	return categories, eligibility, deduction, flags, nil
}

// AnalyzedIDs returns the subset of the given transaction IDs that already
// have a persisted result in the tenant/platform scope.
func (s *SQLiteStorage) AnalyzedIDs(ctx context.Context, tenant string, platform model.Platform, ids []string) (map[string]struct{}, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	analyzed := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return analyzed, nil
	}

	for start := 0; start < len(ids); start += maxSQLParams {
		end := start + maxSQLParams
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]

		args := make([]any, 0, len(chunk)+2)
		args = append(args, tenant, string(platform))
		for _, id := range chunk {
			args = append(args, id)
		}

		query := fmt.Sprintf(`
			SELECT transaction_id FROM analysis_results
			WHERE tenant = ? AND platform = ? AND transaction_id IN (%s)
		`, placeholders)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to query analyzed IDs: %w", common.ErrPersistence, err)
		}

		for rows.Next() {
			var id string
			if scanErr := rows.Scan(&id); scanErr != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("%w: failed to scan analyzed ID: %w", common.ErrPersistence, scanErr)
			}
			analyzed[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: analyzed ID iteration: %w", common.ErrPersistence, err)
		}
		_ = rows.Close()
	}

	return analyzed, nil
}

// CountAnalyzed returns how many results are persisted for a scope.
func (s *SQLiteStorage) CountAnalyzed(ctx context.Context, tenant string, platform model.Platform) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM analysis_results
		WHERE tenant = ? AND platform = ?
	`, tenant, string(platform)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count analyzed: %w", common.ErrPersistence, err)
	}

	return count, nil
}

// GetResult retrieves a single persisted analysis result.
func (s *SQLiteStorage) GetResult(ctx context.Context, tenant, transactionID string) (*model.AnalysisResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT tenant, transaction_id, platform, analyzed_at,
			categories, eligibility, deduction, flags,
			input_tokens, output_tokens
		FROM analysis_results
		WHERE tenant = ? AND transaction_id = ?
	`, tenant, transactionID)

	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: result for %s", common.ErrNotFound, transactionID)
	}
	return result, err
}

// GetResults returns every persisted result for a tenant/platform scope.
func (s *SQLiteStorage) GetResults(ctx context.Context, tenant string, platform model.Platform) ([]model.AnalysisResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenant, "tenant"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, transaction_id, platform, analyzed_at,
			categories, eligibility, deduction, flags,
			input_tokens, output_tokens
		FROM analysis_results
		WHERE tenant = ? AND platform = ?
		ORDER BY transaction_id
	`, tenant, string(platform))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query results: %w", common.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.AnalysisResult
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		results = append(results, *result)
	}

	return results, rows.Err()
}

// GetFlaggedResults returns results carrying at least one compliance flag at
// or above the given severity.
func (s *SQLiteStorage) GetFlaggedResults(ctx context.Context, tenant string, minSeverity model.FlagSeverity) ([]model.AnalysisResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, transaction_id, platform, analyzed_at,
			categories, eligibility, deduction, flags,
			input_tokens, output_tokens
		FROM analysis_results
		WHERE tenant = ? AND flags IS NOT NULL AND flags != ''
		ORDER BY analyzed_at
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query flagged results: %w", common.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.AnalysisResult
	for rows.Next() {
		result, scanErr := scanResult(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		if hasSeverity(result.Flags, minSeverity) {
			results = append(results, *result)
		}
	}

	return results, rows.Err()
}

func scanResult(row rowScanner) (*model.AnalysisResult, error) {
	var result model.AnalysisResult
	var platform, categories, eligibility, deduction string
	var flags sql.NullString

	err := row.Scan(
		&result.Tenant,
		&result.TransactionID,
		&platform,
		&result.AnalyzedAt,
		&categories,
		&eligibility,
		&deduction,
		&flags,
		&result.Usage.InputTokens,
		&result.Usage.OutputTokens,
	)
	if err != nil {
		return nil, err
	}

	result.Platform = model.Platform(platform)

	if err := json.Unmarshal([]byte(categories), &result.Categories); err != nil {
		return nil, fmt.Errorf("failed to parse categories for %s: %w", result.TransactionID, err)
	}
	if err := json.Unmarshal([]byte(eligibility), &result.Eligibility); err != nil {
		return nil, fmt.Errorf("failed to parse eligibility for %s: %w", result.TransactionID, err)
	}
	if err := json.Unmarshal([]byte(deduction), &result.Deduction); err != nil {
		return nil, fmt.Errorf("failed to parse deduction for %s: %w", result.TransactionID, err)
	}
	if flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &result.Flags); err != nil {
			return nil, fmt.Errorf("failed to parse flags for %s: %w", result.TransactionID, err)
		}
	}

	return &result, nil
}

var severityRank = map[model.FlagSeverity]int{
	model.SeverityInfo:     0,
	model.SeverityWarning:  1,
	model.SeverityCritical: 2,
}

func hasSeverity(flags []model.ComplianceFlag, min model.FlagSeverity) bool {
	for _, flag := range flags {
		if severityRank[flag.Severity] >= severityRank[min] {
			return true
		}
	}
	return false
}
