package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/internal/testutil"
	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/notify"
	"github.com/jakechorley/community-connect/pkg/db"
)

// panickingDispatcher implements MessageDispatcher and always panics
type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(ctx context.Context, in notify.DispatchInput) *notify.DispatchReport {
	panic("smtp client exploded")
}

func newChatStore() *testutil.MemDB {
	store := newStore()
	store.PutOpportunity(db.Opportunity{ID: "opp-a", Title: "Food bank", Date: "2024-06-03", TotalSpots: 3, OrganizationID: "org-1"})
	store.PutUser(db.User{ID: "u1", FirstName: "Alice", Email: "alice@example.com", Commitments: []model.OpportunityRef{model.GeneratedRef("opp-a")}})
	store.PutUser(db.User{ID: "u2", FirstName: "Bob", Email: "bob@example.com", Commitments: []model.OpportunityRef{model.GeneratedRef("opp-a")}})
	return store
}

func newDispatcher(store *testutil.MemDB, sender *testutil.RecordingSender) *notify.Dispatcher {
	return notify.NewDispatcher(store, notify.NewStoreLedger(store), sender, "noreply@communityconnect.org", zap.NewNop())
}

func aliceMessage(text string) PostMessageInput {
	return PostMessageInput{
		OpportunityRef: model.GeneratedRef("opp-a"),
		SenderID:       "u1",
		SenderEmail:    "alice@example.com",
		SenderName:     "Alice",
		SenderType:     model.SenderUser,
		Text:           text,
	}
}

func TestPostChatMessage_PersistsAndNotifies(t *testing.T) {
	store := newChatStore()
	sender := &testutil.RecordingSender{}

	result, err := PostChatMessage(context.Background(), store, newDispatcher(store, sender), zap.NewNop(), aliceMessage("  See you there  "), testNow)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Message.ID)
	assert.Equal(t, "See you there", result.Message.Text)
	assert.Equal(t, "opp-a", result.Message.OpportunityID)
	require.Len(t, store.Messages(), 1)

	require.NotNil(t, result.Notification)
	assert.True(t, result.Notification.Success)
	assert.Equal(t, 2, result.Notification.EmailsSent)
	assert.ElementsMatch(t, []string{"host@harbour.org", "bob@example.com"}, sender.SentTo())
	assert.Empty(t, result.NotificationError)
}

func TestPostChatMessage_TransportFailureDoesNotFailPost(t *testing.T) {
	store := newChatStore()
	sender := &testutil.RecordingSender{FailAll: true}

	result, err := PostChatMessage(context.Background(), store, newDispatcher(store, sender), zap.NewNop(), aliceMessage("hello"), testNow)
	require.NoError(t, err)

	require.Len(t, store.Messages(), 1)
	assert.True(t, result.Notification.Success)
	assert.Equal(t, 0, result.Notification.EmailsSent)
	assert.Equal(t, 2, result.Notification.Failed)
}

func TestPostChatMessage_PanickingDispatcher(t *testing.T) {
	store := newChatStore()

	result, err := PostChatMessage(context.Background(), store, panickingDispatcher{}, zap.NewNop(), aliceMessage("hello"), testNow)
	require.NoError(t, err)

	require.Len(t, store.Messages(), 1)
	assert.Nil(t, result.Notification)
	assert.Contains(t, result.NotificationError, "panicked")
}

func TestPostChatMessage_UnknownOpportunity(t *testing.T) {
	store := newChatStore()
	in := aliceMessage("hello")
	in.OpportunityRef = model.GeneratedRef("missing")

	_, err := PostChatMessage(context.Background(), store, newDispatcher(store, &testutil.RecordingSender{}), zap.NewNop(), in, testNow)

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Empty(t, store.Messages())
}

func TestPostChatMessage_ValidationErrors(t *testing.T) {
	store := newChatStore()
	dispatcher := newDispatcher(store, &testutil.RecordingSender{})

	_, err := PostChatMessage(context.Background(), store, dispatcher, zap.NewNop(), aliceMessage("   "), testNow)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	in := aliceMessage("hello")
	in.SenderType = model.SenderAdminAsHost
	_, err = PostChatMessage(context.Background(), store, dispatcher, zap.NewNop(), in, testNow)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	in.SenderType = "robot"
	_, err = PostChatMessage(context.Background(), store, dispatcher, zap.NewNop(), in, testNow)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	assert.Empty(t, store.Messages())
}

func TestPostChatMessage_InsertFailure(t *testing.T) {
	store := newChatStore()
	store.FailOn("InsertChatMessage", errors.New("disk full"))
	sender := &testutil.RecordingSender{}

	_, err := PostChatMessage(context.Background(), store, newDispatcher(store, sender), zap.NewNop(), aliceMessage("hello"), testNow)

	assert.True(t, errors.Is(err, apperrors.ErrSystem))
	assert.Empty(t, sender.Sent, "no notification without a stored message")
}

func hostMessage(orgID string) PostMessageInput {
	return PostMessageInput{
		OpportunityRef: model.GeneratedRef("opp-a"),
		SenderID:       orgID,
		SenderEmail:    "host@harbour.org",
		SenderName:     "Harbour Trust",
		SenderType:     model.SenderOrganization,
		Text:           "Bring gloves",
	}
}

func TestPostChatMessage_HostNotifiesVolunteers(t *testing.T) {
	store := newChatStore()
	sender := &testutil.RecordingSender{}

	result, err := PostChatMessage(context.Background(), store, newDispatcher(store, sender), zap.NewNop(), hostMessage("org-1"), testNow)
	require.NoError(t, err)

	assert.Equal(t, model.SenderOrganization, result.Message.SenderType)
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, sender.SentTo())
}

func TestPostChatMessage_OrganizationMustHost(t *testing.T) {
	store := newChatStore()
	sender := &testutil.RecordingSender{}

	_, err := PostChatMessage(context.Background(), store, newDispatcher(store, sender), zap.NewNop(), hostMessage("org-2"), testNow)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotAuthorized))
	assert.Empty(t, store.Messages())
	assert.Empty(t, sender.Sent)
}
