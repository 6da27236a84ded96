package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/notify"
	"github.com/jakechorley/community-connect/pkg/db"
	"github.com/jakechorley/community-connect/pkg/metrics"
)

// DefaultDigestLookback is how far back the digest sweep reads messages
const DefaultDigestLookback = time.Hour

// DigestStore defines the database operations needed for the digest sweep
type DigestStore interface {
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error)
	ListChatMessagesSince(ctx context.Context, since time.Time) ([]db.ChatMessage, error)
	notify.ParticipantStore
}

// DigestSent represents a digest that was delivered
type DigestSent struct {
	OpportunityID string
	Email         string
	Messages      int
}

// DigestResult summarises one digest sweep
type DigestResult struct {
	Sent    []DigestSent
	Failed  []FailedEmail
	Pending int // recipients whose window has not yet elapsed
}

// SendDigests rolls up messages for recipients on 5min and 30min preferences.
// Each recipient gets at most one digest per opportunity per window, covering
// the messages posted since they were last notified, excluding their own.
func SendDigests(
	ctx context.Context,
	store DigestStore,
	ledger notify.Ledger,
	sender notify.EmailSender,
	from string,
	logger *zap.Logger,
	lookback time.Duration,
	now time.Time,
) (*DigestResult, error) {
	if lookback <= 0 {
		lookback = DefaultDigestLookback
	}
	logger.Debug("Starting sendDigests", zap.Duration("lookback", lookback))

	// Step 1: Fetch recent messages
	messages, err := store.ListChatMessagesSince(ctx, now.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat messages: %w", err)
	}
	logger.Debug("Found recent messages", zap.Int("count", len(messages)))

	result := &DigestResult{Sent: []DigestSent{}, Failed: []FailedEmail{}}
	if len(messages) == 0 {
		return result, nil
	}

	// Step 2: Group by opportunity, keeping first-seen order
	var order []string
	byOpportunity := make(map[string][]db.ChatMessage)
	for _, m := range messages {
		if _, seen := byOpportunity[m.OpportunityID]; !seen {
			order = append(order, m.OpportunityID)
		}
		byOpportunity[m.OpportunityID] = append(byOpportunity[m.OpportunityID], m)
	}

	// Step 3: Roll up per opportunity and recipient
	for _, oppID := range order {
		opp, err := store.GetOpportunity(ctx, model.GeneratedRef(oppID))
		if errors.Is(err, db.ErrNotFound) {
			logger.Debug("Skipping messages for deleted opportunity", zap.String("opportunity_id", oppID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch opportunity %s: %w", oppID, err)
		}

		participants, err := notify.ResolveParticipants(ctx, store, *opp, "", model.SenderUser)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve participants for %s: %w", oppID, err)
		}

		for _, p := range participants {
			if !p.Frequency.IsDigest() || !notify.ValidEmail(p.Email) {
				continue
			}

			lastSent, err := ledger.LastSent(ctx, opp.ID, p.Email)
			if err != nil {
				logger.Warn("Failed to read notification ledger", zap.String("email", p.Email), zap.Error(err))
				continue
			}
			if notify.WithinWindow(lastSent, p.Frequency, now) {
				result.Pending++
				continue
			}

			items := pendingItems(byOpportunity[oppID], p, lastSent)
			if len(items) == 0 {
				continue
			}

			email := notify.ComposeDigestEmail(from, p, *opp, items)
			if _, err := sender.Send(ctx, email); err != nil {
				logger.Warn("Failed to send digest",
					zap.String("opportunity_id", opp.ID),
					zap.String("email", p.Email),
					zap.Error(err))
				result.Failed = append(result.Failed, FailedEmail{OpportunityID: opp.ID, Email: p.Email, Error: err.Error()})
				continue
			}

			if err := ledger.MarkSent(ctx, opp.ID, p.Email, now); err != nil {
				logger.Warn("Failed to update notification ledger", zap.String("email", p.Email), zap.Error(err))
			}
			metrics.DigestsSentTotal.Inc()
			result.Sent = append(result.Sent, DigestSent{OpportunityID: opp.ID, Email: p.Email, Messages: len(items)})
		}
	}

	logger.Debug("Send digests completed",
		zap.Int("sent", len(result.Sent)),
		zap.Int("failed", len(result.Failed)),
		zap.Int("pending", result.Pending))

	return result, nil
}

// pendingItems returns the messages posted after lastSent that would have
// reached the recipient immediately, excluding the recipient's own
func pendingItems(messages []db.ChatMessage, recipient notify.Participant, lastSent *time.Time) []notify.DigestItem {
	items := []notify.DigestItem{}
	for _, m := range messages {
		if lastSent != nil && !m.CreatedAt.After(*lastSent) {
			continue
		}
		if notify.NormalizeEmail(m.SenderEmail) == recipient.Email {
			continue
		}
		if !notify.Receives(recipient.Type, m.SenderType) {
			continue
		}
		items = append(items, notify.DigestItem{
			SenderName: m.SenderName,
			Preview:    notify.Preview(m.Text),
			PostedAt:   m.CreatedAt,
		})
	}
	return items
}
