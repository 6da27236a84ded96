package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/notify"
	"github.com/jakechorley/community-connect/pkg/db"
)

// MaxMessageLength bounds the size of a chat message
const MaxMessageLength = 2000

// MessageDispatcher notifies participants about a new chat message
type MessageDispatcher interface {
	Dispatch(ctx context.Context, in notify.DispatchInput) *notify.DispatchReport
}

// PostMessageStore defines the database operations needed to post chat messages
type PostMessageStore interface {
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error)
	InsertChatMessage(ctx context.Context, msg *db.ChatMessage) error
}

// PostMessageInput is a chat message submitted on an opportunity
type PostMessageInput struct {
	OpportunityRef   model.OpportunityRef
	SenderID         string
	SenderEmail      string
	SenderName       string
	SenderType       model.SenderType
	ActingAdminEmail string
	Text             string
}

// PostResult represents a persisted message and the outcome of its notifications
type PostResult struct {
	Message           db.ChatMessage
	Notification      *notify.DispatchReport
	NotificationError string
}

// PostChatMessage stores the message and then notifies participants. A failed
// notification never fails the post: once the message is written it is returned.
func PostChatMessage(
	ctx context.Context,
	store PostMessageStore,
	dispatcher MessageDispatcher,
	logger *zap.Logger,
	in PostMessageInput,
	now time.Time,
) (*PostResult, error) {
	logger.Debug("Starting postChatMessage",
		zap.String("opportunity", in.OpportunityRef.String()),
		zap.String("sender_type", string(in.SenderType)))

	// Step 1: Validate input
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, apperrors.Validation("message text is required")
	}
	if len([]rune(text)) > MaxMessageLength {
		return nil, apperrors.Validation("message text exceeds %d characters", MaxMessageLength)
	}
	if _, err := model.ParseSenderType(string(in.SenderType)); err != nil {
		return nil, apperrors.ValidationWrap("invalid sender type", err)
	}
	if in.SenderType == model.SenderAdminAsHost && strings.TrimSpace(in.ActingAdminEmail) == "" {
		return nil, apperrors.Validation("acting admin email is required when posting as host")
	}

	// Step 2: Resolve opportunity
	opp, err := getOpportunity(ctx, store, in.OpportunityRef)
	if err != nil {
		return nil, err
	}
	// Only the host may speak as the organization
	if in.SenderType == model.SenderOrganization {
		if err := checkOwnership(*opp, in.SenderID); err != nil {
			return nil, err
		}
	}

	// Step 3: Persist the message
	msg := db.ChatMessage{
		ID:               uuid.New().String(),
		OpportunityID:    opp.ID,
		SenderID:         in.SenderID,
		SenderEmail:      notify.NormalizeEmail(in.SenderEmail),
		SenderName:       in.SenderName,
		SenderType:       in.SenderType,
		ActingAdminEmail: notify.NormalizeEmail(in.ActingAdminEmail),
		Text:             text,
		CreatedAt:        now.UTC(),
	}
	if err := store.InsertChatMessage(ctx, &msg); err != nil {
		return nil, apperrors.System("failed to insert chat message", err)
	}
	logger.Debug("Inserted chat message", zap.String("id", msg.ID))

	result := &PostResult{Message: msg}

	// Step 4: Notify participants
	report, err := safeDispatch(ctx, dispatcher, notify.DispatchInput{
		OpportunityRef: model.GeneratedRef(opp.ID),
		SenderEmail:    in.SenderEmail,
		SenderName:     in.SenderName,
		SenderType:     in.SenderType,
		Text:           text,
	})
	if err != nil {
		logger.Error("Chat notification dispatch failed", zap.String("message_id", msg.ID), zap.Error(err))
		result.NotificationError = err.Error()
		return result, nil
	}
	result.Notification = report
	if !report.Success {
		result.NotificationError = report.Error
	}

	return result, nil
}

// safeDispatch converts a panicking dispatcher into an error
func safeDispatch(ctx context.Context, dispatcher MessageDispatcher, in notify.DispatchInput) (report *notify.DispatchReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	report = dispatcher.Dispatch(ctx, in)
	if report == nil {
		return nil, fmt.Errorf("dispatch returned no report")
	}
	return report, nil
}
