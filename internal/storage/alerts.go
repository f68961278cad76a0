package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerlens/taxscope/internal/common"
	"github.com/ledgerlens/taxscope/internal/model"
)

// Alert is a persisted compliance alert raised after a completed run.
type Alert struct {
	CreatedAt     time.Time
	Tenant        string
	TransactionID string
	Code          string
	Severity      model.FlagSeverity
	Detail        string
	RunID         string
}

// SaveAlerts persists alerts, replacing any previous alert with the same
// (tenant, transaction, code) key.
func (s *SQLiteStorage) SaveAlerts(ctx context.Context, alerts []Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", common.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO alerts (
			tenant, transaction_id, code, severity, detail, run_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %w", common.ErrPersistence, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, alert := range alerts {
		createdAt := alert.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			alert.Tenant,
			alert.TransactionID,
			alert.Code,
			string(alert.Severity),
			alert.Detail,
			alert.RunID,
			createdAt,
		); err != nil {
			return fmt.Errorf("%w: failed to save alert %s/%s: %w",
				common.ErrPersistence, alert.TransactionID, alert.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit alerts: %w", common.ErrPersistence, err)
	}
	return nil
}

// TenantSummary aggregates a tenant's analysis position for reporting.
type TenantSummary struct {
	ComputedAt       time.Time                  `json:"computed_at"`
	Tenant           string                     `json:"tenant"`
	TotalSpentUSD    string                     `json:"total_spent_usd"`
	ResultsPersisted int                        `json:"results_persisted"`
	AlertsBySeverity map[model.FlagSeverity]int `json:"alerts_by_severity"`
}

// GetTenantSummary returns the tenant's summary, serving a cached copy when
// one exists. The cache is invalidated whenever a run completes.
func (s *SQLiteStorage) GetTenantSummary(ctx context.Context, tenant string) (*TenantSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(tenant, "tenant"); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM tenant_summaries WHERE tenant = ?`, tenant,
	).Scan(&payload)
	if err == nil {
		var summary TenantSummary
		if unmarshalErr := json.Unmarshal([]byte(payload), &summary); unmarshalErr == nil {
			return &summary, nil
		}
		// Corrupt cache entry falls through to recompute.
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: failed to read summary cache: %w", common.ErrPersistence, err)
	}

	summary, err := s.computeTenantSummary(ctx, tenant)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tenant summary: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_summaries (tenant, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(tenant) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, tenant, string(data), time.Now()); err != nil {
		return nil, fmt.Errorf("%w: failed to cache summary: %w", common.ErrPersistence, err)
	}

	return summary, nil
}

func (s *SQLiteStorage) computeTenantSummary(ctx context.Context, tenant string) (*TenantSummary, error) {
	summary := &TenantSummary{
		Tenant:           tenant,
		ComputedAt:       time.Now(),
		AlertsBySeverity: make(map[model.FlagSeverity]int),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analysis_results WHERE tenant = ?`, tenant,
	).Scan(&summary.ResultsPersisted)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count results: %w", common.ErrPersistence, err)
	}

	spent, err := s.SumCost(ctx, tenant)
	if err != nil {
		return nil, err
	}
	summary.TotalSpentUSD = spent.StringFixed(4)

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM alerts WHERE tenant = ? GROUP BY severity
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count alerts: %w", common.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan alert count: %w", common.ErrPersistence, err)
		}
		summary.AlertsBySeverity[model.FlagSeverity(severity)] = count
	}

	return summary, rows.Err()
}
