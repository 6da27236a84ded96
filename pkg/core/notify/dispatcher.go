// Package notify turns chat messages into email notifications for the people
// involved in an opportunity.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
	"github.com/jakechorley/community-connect/pkg/metrics"
)

// Reasons attached to rate_limited results
const (
	ReasonDisabled = "disabled"
	ReasonWindow   = "window"
)

// EmailSender delivers a composed email and returns the provider message id
type EmailSender interface {
	Send(ctx context.Context, email model.Email) (string, error)
}

// Store defines the database operations needed by the Dispatcher
type Store interface {
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error)
	ParticipantStore
}

// DispatchInput describes a newly posted chat message
type DispatchInput struct {
	OpportunityRef model.OpportunityRef
	SenderEmail    string
	SenderName     string
	SenderType     model.SenderType
	Text           string
}

// ParticipantResult is the outcome for one candidate recipient
type ParticipantResult struct {
	Email     string                `json:"email"`
	Name      string                `json:"name"`
	Type      model.ParticipantType `json:"type"`
	Status    model.DeliveryStatus  `json:"status"`
	Reason    string                `json:"reason,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorCode string                `json:"errorCode,omitempty"`
}

// DispatchReport aggregates the outcome of one dispatch
type DispatchReport struct {
	Success       bool                `json:"success"`
	Error         string              `json:"error,omitempty"`
	EmailsSent    int                 `json:"emailsSent"`
	RateLimited   int                 `json:"rateLimited"`
	Failed        int                 `json:"failed"`
	InvalidEmails int                 `json:"invalidEmails"`
	Participants  []ParticipantResult `json:"participants"`
}

func (r *DispatchReport) record(res ParticipantResult) {
	switch res.Status {
	case model.StatusSent:
		r.EmailsSent++
	case model.StatusRateLimited:
		r.RateLimited++
	case model.StatusFailed:
		r.Failed++
	case model.StatusInvalidEmail:
		r.InvalidEmails++
	}
	r.Participants = append(r.Participants, res)
	metrics.NotificationsTotal.WithLabelValues(string(res.Status)).Inc()
}

// Dispatcher resolves recipients for a chat message and sends at most one
// notification per recipient per frequency window.
type Dispatcher struct {
	store  Store
	ledger Ledger
	sender EmailSender
	from   string
	now    func() time.Time
	logger *zap.Logger
}

// NewDispatcher creates a new Dispatcher sending from the given address
func NewDispatcher(store Store, ledger Ledger, sender EmailSender, from string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		ledger: ledger,
		sender: sender,
		from:   from,
		now:    time.Now,
		logger: logger.Named("dispatcher"),
	}
}

// WithClock replaces the time source
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch notifies everyone involved in the opportunity except the sender.
// It never returns an error: every failure is described in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) *DispatchReport {
	report := &DispatchReport{Participants: []ParticipantResult{}}
	logger := d.logger.With(zap.String("opportunity", in.OpportunityRef.String()), zap.String("sender_type", string(in.SenderType)))

	// Step 1: Validate sender
	senderEmail := NormalizeEmail(in.SenderEmail)
	if !ValidEmail(senderEmail) {
		logger.Warn("Rejecting dispatch with invalid sender email", zap.String("sender_email", in.SenderEmail))
		report.Error = "invalid sender email"
		return report
	}

	// Step 2: Resolve opportunity
	opp, err := d.store.GetOpportunity(ctx, in.OpportunityRef)
	if errors.Is(err, db.ErrNotFound) {
		logger.Warn("Opportunity not found for dispatch")
		report.Error = "opportunity not found"
		return report
	}
	if err != nil {
		logger.Error("Failed to fetch opportunity for dispatch", zap.Error(err))
		report.Error = "system error: " + err.Error()
		return report
	}

	// Step 3: Resolve participants
	participants, err := ResolveParticipants(ctx, d.store, *opp, senderEmail, in.SenderType)
	if err != nil {
		logger.Error("Failed to resolve participants", zap.Error(err))
		report.Error = "system error: " + err.Error()
		return report
	}
	logger.Debug("Resolved participants", zap.Int("count", len(participants)))

	// Step 4: Gate and deliver per participant
	now := d.now()
	for _, p := range participants {
		report.record(d.deliver(ctx, logger, *opp, p, in, now))
	}

	report.Success = true
	logger.Info("Dispatch completed",
		zap.Int("sent", report.EmailsSent),
		zap.Int("rate_limited", report.RateLimited),
		zap.Int("failed", report.Failed),
		zap.Int("invalid", report.InvalidEmails))

	return report
}

func (d *Dispatcher) deliver(
	ctx context.Context,
	logger *zap.Logger,
	opp db.Opportunity,
	p Participant,
	in DispatchInput,
	now time.Time,
) ParticipantResult {
	res := ParticipantResult{Email: p.Email, Name: p.Name, Type: p.Type}

	if !ValidEmail(p.Email) {
		logger.Debug("Skipping invalid participant email", zap.String("participant_id", p.ID))
		res.Status = model.StatusInvalidEmail
		return res
	}

	if Decide(nil, p.Frequency, now) == Disabled {
		res.Status = model.StatusRateLimited
		res.Reason = ReasonDisabled
		return res
	}

	lastSent, err := d.ledger.LastSent(ctx, opp.ID, p.Email)
	if err != nil {
		// Soft limit: an unreadable ledger never blocks delivery
		logger.Warn("Failed to read notification ledger", zap.String("email", p.Email), zap.Error(err))
		lastSent = nil
	}
	if Decide(lastSent, p.Frequency, now) == RateLimited {
		logger.Debug("Participant within notification window",
			zap.String("email", p.Email),
			zap.String("frequency", string(p.Frequency)))
		res.Status = model.StatusRateLimited
		res.Reason = ReasonWindow
		return res
	}

	email := ComposeChatEmail(d.from, p, opp, in.SenderName, in.Text)
	if _, err := d.sender.Send(ctx, email); err != nil {
		logger.Warn("Failed to send chat notification", zap.String("email", p.Email), zap.Error(err))
		res.Status = model.StatusFailed
		res.Error = err.Error()
		res.ErrorCode = model.DeliveryErrorCode(err)
		return res
	}

	if err := d.ledger.MarkSent(ctx, opp.ID, p.Email, now); err != nil {
		logger.Warn("Failed to update notification ledger", zap.String("email", p.Email), zap.Error(err))
	}

	res.Status = model.StatusSent
	return res
}
