// Package source supplies candidate transactions to the analysis pipeline.
// Platform exports are normalized to the canonical Transaction at this
// boundary; nothing downstream sees platform-specific field names.
package source

import (
	"context"
	"fmt"

	"github.com/ledgerlens/taxscope/internal/model"
	"github.com/ledgerlens/taxscope/internal/service"
)

// StorageSource serves previously imported transactions from the store. It
// implements service.TransactionSource.
type StorageSource struct {
	store service.Storage
}

// NewStorageSource creates a source backed by the transaction store.
func NewStorageSource(store service.Storage) *StorageSource {
	return &StorageSource{store: store}
}

// FetchCandidates returns every imported transaction for the scope. The
// list is finite and complete; the orchestrator batches it downstream.
func (s *StorageSource) FetchCandidates(ctx context.Context, tenant string, platform model.Platform, period string) ([]model.Transaction, error) {
	txns, err := s.store.GetTransactions(ctx, tenant, platform, period)
	if err != nil {
		return nil, fmt.Errorf("loading candidates for %s/%s: %w", tenant, platform, err)
	}
	return txns, nil
}
