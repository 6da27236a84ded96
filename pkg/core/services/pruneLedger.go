package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultLedgerRetention is how long notification ledger entries are kept
const DefaultLedgerRetention = 7 * 24 * time.Hour

// LedgerPruner deletes ledger entries older than a cutoff
type LedgerPruner interface {
	DeleteLedgerEntriesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// PruneLedger deletes ledger entries last written before now minus retention
func PruneLedger(ctx context.Context, store LedgerPruner, logger *zap.Logger, retention time.Duration, now time.Time) (int, error) {
	if retention <= 0 {
		retention = DefaultLedgerRetention
	}
	cutoff := now.Add(-retention)

	logger.Debug("Pruning notification ledger", zap.Time("cutoff", cutoff))

	deleted, err := store.DeleteLedgerEntriesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune notification ledger: %w", err)
	}

	logger.Info("Pruned notification ledger", zap.Int("deleted", deleted))
	return deleted, nil
}
