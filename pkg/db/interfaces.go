package db

import (
	"context"
	"time"

	"github.com/jakechorley/community-connect/pkg/core/model"
)

// OpportunityStore defines the interface for opportunity database operations
type OpportunityStore interface {
	// GetOpportunity resolves a reference in either encoding. Returns ErrNotFound.
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*Opportunity, error)
	// GetOpportunityFamily returns the parent with the given id and every child pointing at it
	GetOpportunityFamily(ctx context.Context, parentID string) ([]Opportunity, error)
	// InsertOpportunity inserts one opportunity, assigning its ID when empty
	InsertOpportunity(ctx context.Context, opp *Opportunity) error
	// InsertOpportunities inserts a batch as a unit, assigning IDs when empty
	InsertOpportunities(ctx context.Context, opps []Opportunity) error
	UpdateOpportunities(ctx context.Context, ids []string, fields OpportunityFields) (int, error)
	DeleteOpportunities(ctx context.Context, ids []string) (int, error)
	// AdjustFilledSpots atomically adds delta to the filled count, keeping
	// 0 <= filled <= total. Returns false when the guard rejected the change.
	AdjustFilledSpots(ctx context.Context, id string, delta int) (bool, error)
}

// OrganizationStore defines the interface for organization database operations
type OrganizationStore interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	AddOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error
	RemoveOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error
}

// UserStore defines the interface for volunteer database operations
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	// ListCommittedUsers returns users whose commitments contain any of refs
	ListCommittedUsers(ctx context.Context, refs []model.OpportunityRef) ([]User, error)
	// AddCommitment appends ref unless the user already holds max commitments
	// or already holds one of the encodings in candidates
	AddCommitment(ctx context.Context, userID string, ref model.OpportunityRef, candidates []model.OpportunityRef, max int) (bool, error)
	// RemoveCommitment removes every encoding in candidates. Returns false if none was held.
	RemoveCommitment(ctx context.Context, userID string, candidates []model.OpportunityRef) (bool, error)
}

// ChatMessageStore defines the interface for chat message database operations
type ChatMessageStore interface {
	InsertChatMessage(ctx context.Context, msg *ChatMessage) error
	ListChatMessagesSince(ctx context.Context, since time.Time) ([]ChatMessage, error)
}

// LedgerStore defines the interface for notification ledger database operations
type LedgerStore interface {
	// GetLedgerEntry returns ErrNotFound when no notification has been recorded
	GetLedgerEntry(ctx context.Context, opportunityID, email string) (*LedgerEntry, error)
	UpsertLedgerEntry(ctx context.Context, entry LedgerEntry) error
	DeleteLedgerEntriesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Database defines the interface for all database operations.
// Both mongostore.DB and postgres.DB implement this interface.
type Database interface {
	OpportunityStore
	OrganizationStore
	UserStore
	ChatMessageStore
	LedgerStore
	Close(ctx context.Context) error
}
