package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/internal/testutil"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedDispatchFixture(t *testing.T) *testutil.MemDB {
	t.Helper()
	legacy := int64(101)
	store := testutil.NewMemDB()
	store.PutOrganization(db.Organization{
		ID:                    "org-1",
		Name:                  "Harbour Trust",
		Email:                 "Host@Harbour.org",
		NotificationFrequency: model.NotifyImmediate,
	})
	store.PutOpportunity(db.Opportunity{
		ID:             "opp-a",
		LegacyID:       &legacy,
		Title:          "Beach clean",
		Date:           "2024-06-03",
		TotalSpots:     5,
		OrganizationID: "org-1",
	})
	// alice holds the legacy encoding, bob the generated one
	store.PutUser(db.User{ID: "u1", FirstName: "Alice", Email: "alice@example.com", NotificationFrequency: model.NotifyImmediate, Commitments: []model.OpportunityRef{model.NumericRef(101)}})
	store.PutUser(db.User{ID: "u2", FirstName: "Bob", Email: "bob@example.com", NotificationFrequency: model.NotifyFiveMinutes, Commitments: []model.OpportunityRef{model.GeneratedRef("opp-a")}})
	store.PutUser(db.User{ID: "u3", FirstName: "Carol", Email: "carol@example.com", Commitments: []model.OpportunityRef{model.NumericRef(999)}})
	store.PutUser(db.User{ID: "u4", FirstName: "Dave", Email: "dave..x@example.com", Commitments: []model.OpportunityRef{model.NumericRef(101)}})
	return store
}

func newTestDispatcher(store *testutil.MemDB, sender EmailSender) *Dispatcher {
	return NewDispatcher(store, NewStoreLedger(store), sender, "noreply@communityconnect.org", zap.NewNop()).
		WithClock(func() time.Time { return fixedNow })
}

func resultFor(report *DispatchReport, email string) (ParticipantResult, bool) {
	for _, p := range report.Participants {
		if p.Email == email {
			return p, true
		}
	}
	return ParticipantResult{}, false
}

func TestDispatch_UserSenderNotifiesHostAndOtherVolunteers(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    " Alice@Example.com ",
		SenderName:     "Alice",
		SenderType:     model.SenderUser,
		Text:           "Running ten minutes late",
	})

	require.True(t, report.Success)
	assert.Equal(t, 2, report.EmailsSent)
	assert.Equal(t, 1, report.InvalidEmails)
	assert.Equal(t, 0, report.Failed)
	assert.ElementsMatch(t, []string{"host@harbour.org", "bob@example.com"}, sender.SentTo())

	_, found := resultFor(report, "alice@example.com")
	assert.False(t, found, "sender must never be a participant")
	_, found = resultFor(report, "carol@example.com")
	assert.False(t, found)

	dave, found := resultFor(report, "dave..x@example.com")
	require.True(t, found)
	assert.Equal(t, model.StatusInvalidEmail, dave.Status)
}

func TestDispatch_OrganizationSenderNotifiesVolunteersOnly(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.GeneratedRef("opp-a"),
		SenderEmail:    "host@harbour.org",
		SenderName:     "Harbour Trust",
		SenderType:     model.SenderOrganization,
		Text:           "Meet at the pier",
	})

	require.True(t, report.Success)
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, sender.SentTo())
	_, found := resultFor(report, "host@harbour.org")
	assert.False(t, found)
	for _, p := range report.Participants {
		assert.Equal(t, model.ParticipantVolunteer, p.Type)
	}
}

func TestDispatch_AdminAsHostNotifiesOrganizationOnly(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "admin@communityconnect.org",
		SenderName:     "Harbour Trust",
		SenderType:     model.SenderAdminAsHost,
		Text:           "Schedule updated",
	})

	require.True(t, report.Success)
	require.Len(t, report.Participants, 1)
	assert.Equal(t, model.ParticipantOrganization, report.Participants[0].Type)
	assert.Equal(t, []string{"host@harbour.org"}, sender.SentTo())
}

func TestDispatch_RateLimitedWithinWindow(t *testing.T) {
	store := seedDispatchFixture(t)
	store.PutLedgerEntry(db.LedgerEntry{OpportunityID: "opp-a", Email: "host@harbour.org", LastSentAt: fixedNow.Add(-10 * time.Minute)})
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "alice@example.com",
		SenderType:     model.SenderUser,
		Text:           "hello",
	})

	require.True(t, report.Success)
	host, found := resultFor(report, "host@harbour.org")
	require.True(t, found)
	assert.Equal(t, model.StatusRateLimited, host.Status)
	assert.Equal(t, ReasonWindow, host.Reason)
	assert.Equal(t, 1, report.RateLimited)
	assert.NotContains(t, sender.SentTo(), "host@harbour.org")
}

func TestDispatch_SecondMessageIsSuppressedAfterSend(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)
	in := DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "alice@example.com",
		SenderType:     model.SenderUser,
		Text:           "first",
	}

	first := d.Dispatch(context.Background(), in)
	require.Equal(t, 2, first.EmailsSent)

	in.Text = "second"
	second := d.Dispatch(context.Background(), in)
	assert.Equal(t, 0, second.EmailsSent)
	assert.Equal(t, 2, second.RateLimited)
	assert.Len(t, sender.Sent, 2)
}

func TestDispatch_WindowElapsed(t *testing.T) {
	store := seedDispatchFixture(t)
	// bob is on 5min
	store.PutLedgerEntry(db.LedgerEntry{OpportunityID: "opp-a", Email: "bob@example.com", LastSentAt: fixedNow.Add(-6 * time.Minute)})
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "host@harbour.org",
		SenderType:     model.SenderOrganization,
		Text:           "hello",
	})

	bob, found := resultFor(report, "bob@example.com")
	require.True(t, found)
	assert.Equal(t, model.StatusSent, bob.Status)
}

func TestDispatch_NeverPreferenceIsDisabled(t *testing.T) {
	store := seedDispatchFixture(t)
	store.PutOrganization(db.Organization{ID: "org-1", Name: "Harbour Trust", Email: "host@harbour.org", NotificationFrequency: model.NotifyNever})
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "alice@example.com",
		SenderType:     model.SenderUser,
		Text:           "hello",
	})

	host, found := resultFor(report, "host@harbour.org")
	require.True(t, found)
	assert.Equal(t, model.StatusRateLimited, host.Status)
	assert.Equal(t, ReasonDisabled, host.Reason)
	assert.NotContains(t, sender.SentTo(), "host@harbour.org")
}

func TestDispatch_TransportAlwaysFails(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{FailAll: true}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "alice@example.com",
		SenderType:     model.SenderUser,
		Text:           "hello",
	})

	assert.True(t, report.Success)
	assert.Equal(t, 0, report.EmailsSent)
	assert.Equal(t, 2, report.Failed)
	host, _ := resultFor(report, "host@harbour.org")
	assert.Equal(t, "MessageRejected", host.ErrorCode)
	assert.NotEmpty(t, host.Error)
	assert.Equal(t, 0, store.LedgerEntries(), "failed sends must not advance the window")
}

func TestDispatch_OpportunityNotFound(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.GeneratedRef("missing"),
		SenderEmail:    "alice@example.com",
		SenderType:     model.SenderUser,
		Text:           "hello",
	})

	assert.False(t, report.Success)
	assert.Equal(t, "opportunity not found", report.Error)
	assert.Empty(t, sender.Sent)
}

func TestDispatch_InvalidSenderEmail(t *testing.T) {
	store := seedDispatchFixture(t)
	d := newTestDispatcher(store, &testutil.RecordingSender{})

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "not-an-address",
		SenderType:     model.SenderUser,
		Text:           "hello",
	})

	assert.False(t, report.Success)
	assert.NotNil(t, report.Participants)
}

func TestDispatch_LedgerReadFailureStillSends(t *testing.T) {
	store := seedDispatchFixture(t)
	store.FailOn("GetLedgerEntry", errors.New("connection reset"))
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	report := d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "alice@example.com",
		SenderType:     model.SenderUser,
		Text:           "hello",
	})

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.EmailsSent)
}

func TestDispatch_StorageUnavailable(t *testing.T) {
	store := seedDispatchFixture(t)
	store.FailOn("ListCommittedUsers", errors.New("no reachable servers"))
	d := newTestDispatcher(store, &testutil.RecordingSender{})

	var report *DispatchReport
	assert.NotPanics(t, func() {
		report = d.Dispatch(context.Background(), DispatchInput{
			OpportunityRef: model.NumericRef(101),
			SenderEmail:    "alice@example.com",
			SenderType:     model.SenderUser,
			Text:           "hello",
		})
	})
	require.NotNil(t, report)
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "system error")
}

func TestDispatch_NotificationQuotesPreview(t *testing.T) {
	store := seedDispatchFixture(t)
	sender := &testutil.RecordingSender{}
	d := newTestDispatcher(store, sender)

	long := ""
	for i := 0; i < 15; i++ {
		long += "abcdefghij"
	}
	d.Dispatch(context.Background(), DispatchInput{
		OpportunityRef: model.NumericRef(101),
		SenderEmail:    "host@harbour.org",
		SenderName:     "Harbour Trust",
		SenderType:     model.SenderOrganization,
		Text:           long,
	})

	require.NotEmpty(t, sender.Sent)
	assert.Contains(t, sender.Sent[0].Text, long[:100]+"...")
	assert.NotContains(t, sender.Sent[0].Text, long[:101])
	assert.Equal(t, "New message about Beach clean", sender.Sent[0].Subject)
}
