package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// Participant is a candidate recipient of a chat notification
type Participant struct {
	ID        string
	Email     string // normalized
	Name      string
	Type      model.ParticipantType
	Frequency model.NotificationFrequency
}

// ParticipantStore defines the database operations needed to resolve recipients
type ParticipantStore interface {
	GetOrganization(ctx context.Context, id string) (*db.Organization, error)
	ListCommittedUsers(ctx context.Context, refs []model.OpportunityRef) ([]db.User, error)
}

// ResolveParticipants returns the candidate recipients for a message on opp.
//
//   - admin_as_host: the hosting organization only
//   - organization: every committed volunteer
//   - user: the hosting organization plus every other committed volunteer
//
// The sender's address is never included and addresses are deduplicated.
func ResolveParticipants(
	ctx context.Context,
	store ParticipantStore,
	opp db.Opportunity,
	senderEmail string,
	senderType model.SenderType,
) ([]Participant, error) {
	sender := NormalizeEmail(senderEmail)
	seen := map[string]bool{sender: true}
	participants := []Participant{}

	add := func(p Participant) {
		key := p.Email
		if key == "" {
			key = string(p.Type) + ":" + p.ID
		}
		if seen[key] {
			return
		}
		seen[key] = true
		participants = append(participants, p)
	}

	if senderType != model.SenderOrganization {
		org, err := store.GetOrganization(ctx, opp.OrganizationID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			// no host to notify
		case err != nil:
			return nil, fmt.Errorf("failed to fetch organization %s: %w", opp.OrganizationID, err)
		default:
			add(Participant{
				ID:        org.ID,
				Email:     NormalizeEmail(org.Email),
				Name:      org.Name,
				Type:      model.ParticipantOrganization,
				Frequency: model.ParseNotificationFrequency(string(org.NotificationFrequency)),
			})
		}
	}

	if senderType == model.SenderAdminAsHost {
		return participants, nil
	}

	// Volunteers may hold either encoding of the reference
	users, err := store.ListCommittedUsers(ctx, opp.Refs())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch committed volunteers: %w", err)
	}
	for _, u := range users {
		add(Participant{
			ID:        u.ID,
			Email:     NormalizeEmail(u.Email),
			Name:      u.FullName(),
			Type:      model.ParticipantVolunteer,
			Frequency: model.ParseNotificationFrequency(string(u.NotificationFrequency)),
		})
	}

	return participants, nil
}

// Receives reports whether a participant of type pt is notified about a
// message from senderType, following the same rules as ResolveParticipants.
func Receives(pt model.ParticipantType, senderType model.SenderType) bool {
	switch senderType {
	case model.SenderAdminAsHost:
		return pt == model.ParticipantOrganization
	case model.SenderOrganization:
		return pt != model.ParticipantOrganization
	default:
		return true
	}
}
