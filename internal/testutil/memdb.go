// Package testutil provides shared test helpers for the community-connect project.
// Import this in test files to avoid duplicating in-memory stores and fake transports.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// MemDB is an in-memory db.Database. Failures can be injected per method with FailOn.
type MemDB struct {
	mu            sync.Mutex
	opportunities map[string]db.Opportunity
	organizations map[string]db.Organization
	users         map[string]db.User
	messages      []db.ChatMessage
	ledger        map[string]db.LedgerEntry
	failures      map[string]error
	nextID        int
}

// NewMemDB creates an empty in-memory database
func NewMemDB() *MemDB {
	return &MemDB{
		opportunities: make(map[string]db.Opportunity),
		organizations: make(map[string]db.Organization),
		users:         make(map[string]db.User),
		ledger:        make(map[string]db.LedgerEntry),
		failures:      make(map[string]error),
	}
}

// FailOn makes every later call to method return err. A nil err clears it.
func (m *MemDB) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// PutOpportunity stores opp as-is, overwriting any record with the same ID
func (m *MemDB) PutOpportunity(opp db.Opportunity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opportunities[opp.ID] = cloneOpportunity(opp)
}

// PutOrganization stores org as-is
func (m *MemDB) PutOrganization(org db.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org.OpportunityIDs = append([]model.OpportunityRef(nil), org.OpportunityIDs...)
	m.organizations[org.ID] = org
}

// PutUser stores user as-is
func (m *MemDB) PutUser(user db.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Commitments = append([]model.OpportunityRef(nil), user.Commitments...)
	m.users[user.ID] = user
}

// PutLedgerEntry stores a ledger entry directly
func (m *MemDB) PutLedgerEntry(entry db.LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[ledgerKey(entry.OpportunityID, entry.Email)] = entry
}

// Opportunities returns every stored opportunity ordered by date then ID
func (m *MemDB) Opportunities() []db.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.Opportunity, 0, len(m.opportunities))
	for _, o := range m.opportunities {
		out = append(out, cloneOpportunity(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Organization returns a stored organization for assertions
func (m *MemDB) Organization(id string) db.Organization {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.organizations[id]
}

// User returns a stored user for assertions
func (m *MemDB) User(id string) db.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// Messages returns every stored chat message
func (m *MemDB) Messages() []db.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.ChatMessage(nil), m.messages...)
}

// LedgerEntries returns the number of ledger entries
func (m *MemDB) LedgerEntries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

func (m *MemDB) fail(method string) error {
	return m.failures[method]
}

func (m *MemDB) newID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

// GetOpportunity implements db.OpportunityStore
func (m *MemDB) GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetOpportunity"); err != nil {
		return nil, err
	}
	for _, o := range m.opportunities {
		if model.ContainsAny(o.Refs(), []model.OpportunityRef{ref}) {
			opp := cloneOpportunity(o)
			return &opp, nil
		}
	}
	return nil, db.ErrNotFound
}

// GetOpportunityFamily implements db.OpportunityStore
func (m *MemDB) GetOpportunityFamily(ctx context.Context, parentID string) ([]db.Opportunity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetOpportunityFamily"); err != nil {
		return nil, err
	}
	var family []db.Opportunity
	for _, o := range m.opportunities {
		if o.ID == parentID || o.ParentOpportunityID == parentID {
			family = append(family, cloneOpportunity(o))
		}
	}
	return family, nil
}

// InsertOpportunity implements db.OpportunityStore
func (m *MemDB) InsertOpportunity(ctx context.Context, opp *db.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertOpportunity"); err != nil {
		return err
	}
	if opp.ID == "" {
		opp.ID = m.newID("opp")
	}
	m.opportunities[opp.ID] = cloneOpportunity(*opp)
	return nil
}

// InsertOpportunities implements db.OpportunityStore
func (m *MemDB) InsertOpportunities(ctx context.Context, opps []db.Opportunity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertOpportunities"); err != nil {
		return err
	}
	for i := range opps {
		if opps[i].ID == "" {
			opps[i].ID = m.newID("opp")
		}
		m.opportunities[opps[i].ID] = cloneOpportunity(opps[i])
	}
	return nil
}

// UpdateOpportunities implements db.OpportunityStore
func (m *MemDB) UpdateOpportunities(ctx context.Context, ids []string, fields db.OpportunityFields) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateOpportunities"); err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		o, ok := m.opportunities[id]
		if !ok {
			continue
		}
		fields.Apply(&o)
		o.UpdatedAt = time.Now().UTC()
		m.opportunities[id] = o
		count++
	}
	return count, nil
}

// DeleteOpportunities implements db.OpportunityStore
func (m *MemDB) DeleteOpportunities(ctx context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteOpportunities"); err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		if _, ok := m.opportunities[id]; ok {
			delete(m.opportunities, id)
			count++
		}
	}
	return count, nil
}

// AdjustFilledSpots implements db.OpportunityStore
func (m *MemDB) AdjustFilledSpots(ctx context.Context, id string, delta int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AdjustFilledSpots"); err != nil {
		return false, err
	}
	o, ok := m.opportunities[id]
	if !ok {
		return false, nil
	}
	filled := o.FilledSpots + delta
	if filled < 0 || filled > o.TotalSpots {
		return false, nil
	}
	o.FilledSpots = filled
	m.opportunities[id] = o
	return true, nil
}

// GetOrganization implements db.OrganizationStore
func (m *MemDB) GetOrganization(ctx context.Context, id string) (*db.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetOrganization"); err != nil {
		return nil, err
	}
	org, ok := m.organizations[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	org.OpportunityIDs = append([]model.OpportunityRef(nil), org.OpportunityIDs...)
	return &org, nil
}

// AddOrganizationOpportunities implements db.OrganizationStore
func (m *MemDB) AddOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AddOrganizationOpportunities"); err != nil {
		return err
	}
	org, ok := m.organizations[orgID]
	if !ok {
		return db.ErrNotFound
	}
	for _, ref := range refs {
		if !model.ContainsAny(org.OpportunityIDs, []model.OpportunityRef{ref}) {
			org.OpportunityIDs = append(org.OpportunityIDs, ref)
		}
	}
	m.organizations[orgID] = org
	return nil
}

// RemoveOrganizationOpportunities implements db.OrganizationStore
func (m *MemDB) RemoveOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RemoveOrganizationOpportunities"); err != nil {
		return err
	}
	org, ok := m.organizations[orgID]
	if !ok {
		return db.ErrNotFound
	}
	kept := org.OpportunityIDs[:0]
	for _, have := range org.OpportunityIDs {
		if !model.ContainsAny([]model.OpportunityRef{have}, refs) {
			kept = append(kept, have)
		}
	}
	org.OpportunityIDs = kept
	m.organizations[orgID] = org
	return nil
}

// GetUser implements db.UserStore
func (m *MemDB) GetUser(ctx context.Context, id string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	u.Commitments = append([]model.OpportunityRef(nil), u.Commitments...)
	return &u, nil
}

// ListCommittedUsers implements db.UserStore
func (m *MemDB) ListCommittedUsers(ctx context.Context, refs []model.OpportunityRef) ([]db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListCommittedUsers"); err != nil {
		return nil, err
	}
	var users []db.User
	for _, u := range m.users {
		if model.ContainsAny(u.Commitments, refs) {
			u.Commitments = append([]model.OpportunityRef(nil), u.Commitments...)
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// AddCommitment implements db.UserStore
func (m *MemDB) AddCommitment(ctx context.Context, userID string, ref model.OpportunityRef, candidates []model.OpportunityRef, max int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("AddCommitment"); err != nil {
		return false, err
	}
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	if len(u.Commitments) >= max || model.ContainsAny(u.Commitments, candidates) {
		return false, nil
	}
	u.Commitments = append(u.Commitments, ref)
	m.users[userID] = u
	return true, nil
}

// RemoveCommitment implements db.UserStore
func (m *MemDB) RemoveCommitment(ctx context.Context, userID string, candidates []model.OpportunityRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("RemoveCommitment"); err != nil {
		return false, err
	}
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	var kept []model.OpportunityRef
	for _, have := range u.Commitments {
		if !model.ContainsAny([]model.OpportunityRef{have}, candidates) {
			kept = append(kept, have)
		}
	}
	removed := len(kept) != len(u.Commitments)
	u.Commitments = kept
	m.users[userID] = u
	return removed, nil
}

// InsertChatMessage implements db.ChatMessageStore
func (m *MemDB) InsertChatMessage(ctx context.Context, msg *db.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertChatMessage"); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = m.newID("msg")
	}
	m.messages = append(m.messages, *msg)
	return nil
}

// ListChatMessagesSince implements db.ChatMessageStore
func (m *MemDB) ListChatMessagesSince(ctx context.Context, since time.Time) ([]db.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListChatMessagesSince"); err != nil {
		return nil, err
	}
	var out []db.ChatMessage
	for _, msg := range m.messages {
		if !msg.CreatedAt.Before(since) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetLedgerEntry implements db.LedgerStore
func (m *MemDB) GetLedgerEntry(ctx context.Context, opportunityID, email string) (*db.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetLedgerEntry"); err != nil {
		return nil, err
	}
	entry, ok := m.ledger[ledgerKey(opportunityID, email)]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &entry, nil
}

// UpsertLedgerEntry implements db.LedgerStore
func (m *MemDB) UpsertLedgerEntry(ctx context.Context, entry db.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpsertLedgerEntry"); err != nil {
		return err
	}
	m.ledger[ledgerKey(entry.OpportunityID, entry.Email)] = entry
	return nil
}

// DeleteLedgerEntriesBefore implements db.LedgerStore
func (m *MemDB) DeleteLedgerEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteLedgerEntriesBefore"); err != nil {
		return 0, err
	}
	count := 0
	for k, entry := range m.ledger {
		if entry.LastSentAt.Before(cutoff) {
			delete(m.ledger, k)
			count++
		}
	}
	return count, nil
}

// Close implements db.Database
func (m *MemDB) Close(ctx context.Context) error {
	return nil
}

func ledgerKey(opportunityID, email string) string {
	return opportunityID + "|" + strings.ToLower(email)
}

func cloneOpportunity(o db.Opportunity) db.Opportunity {
	if o.DayFilter != nil {
		o.DayFilter = append([]string(nil), o.DayFilter...)
	}
	if o.LegacyID != nil {
		id := *o.LegacyID
		o.LegacyID = &id
	}
	return o
}
