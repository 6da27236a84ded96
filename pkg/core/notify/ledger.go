package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jakechorley/community-connect/pkg/db"
)

// Ledger records when each recipient was last notified about an opportunity.
// Reads and writes are not coordinated: two concurrent dispatches may both
// observe an empty window and both send.
type Ledger interface {
	// LastSent returns nil when no notification has been recorded
	LastSent(ctx context.Context, opportunityID, email string) (*time.Time, error)
	MarkSent(ctx context.Context, opportunityID, email string, at time.Time) error
}

// StoreLedger keeps the ledger in the primary database
type StoreLedger struct {
	store db.LedgerStore
}

// NewStoreLedger creates a ledger backed by the database
func NewStoreLedger(store db.LedgerStore) *StoreLedger {
	return &StoreLedger{store: store}
}

// LastSent implements Ledger
func (l *StoreLedger) LastSent(ctx context.Context, opportunityID, email string) (*time.Time, error) {
	entry, err := l.store.GetLedgerEntry(ctx, opportunityID, NormalizeEmail(email))
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	at := entry.LastSentAt
	return &at, nil
}

// MarkSent implements Ledger
func (l *StoreLedger) MarkSent(ctx context.Context, opportunityID, email string, at time.Time) error {
	err := l.store.UpsertLedgerEntry(ctx, db.LedgerEntry{
		OpportunityID: opportunityID,
		Email:         NormalizeEmail(email),
		LastSentAt:    at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}
