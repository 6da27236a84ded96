package db

import (
	"errors"
	"time"

	"github.com/jakechorley/community-connect/pkg/core/model"
)

// ErrNotFound is returned by stores when a lookup matches no record
var ErrNotFound = errors.New("record not found")

// Opportunity represents a volunteer opportunity instance
type Opportunity struct {
	ID                  string                    `json:"id"`
	LegacyID            *int64                    `json:"legacyId,omitempty"`
	Title               string                    `json:"title"`
	Description         string                    `json:"description"`
	Category            string                    `json:"category"`
	Date                string                    `json:"date"`
	ArrivalTime         string                    `json:"arrivalTime"`
	DepartureTime       string                    `json:"departureTime"`
	TotalSpots          int                       `json:"totalSpots"`
	FilledSpots         int                       `json:"filledSpots"`
	Location            string                    `json:"location"`
	ContactEmail        string                    `json:"contactEmail"`
	ContactPhone        string                    `json:"contactPhone"`
	OrganizationID      string                    `json:"organizationId"`
	IsRecurring         bool                      `json:"isRecurring"`
	Frequency           model.RecurrenceFrequency `json:"frequency,omitempty"`
	DayFilter           []string                  `json:"dayFilter,omitempty"`
	ParentOpportunityID string                    `json:"parentOpportunityId,omitempty"`
	CreatedAt           time.Time                 `json:"createdAt"`
	UpdatedAt           time.Time                 `json:"updatedAt"`
}

// Refs returns every reference encoding this opportunity may be stored under
func (o Opportunity) Refs() []model.OpportunityRef {
	return model.CandidateRefs(o.LegacyID, o.ID)
}

// Ref returns the primary reference for the opportunity
func (o Opportunity) Ref() model.OpportunityRef {
	refs := o.Refs()
	if len(refs) == 0 {
		return model.OpportunityRef{}
	}
	return refs[0]
}

// IsParent reports whether the opportunity heads a recurring family
func (o Opportunity) IsParent() bool {
	return o.IsRecurring && o.ParentOpportunityID == ""
}

// FamilyID returns the id of the family's parent, or "" for a standalone opportunity
func (o Opportunity) FamilyID() string {
	if o.ParentOpportunityID != "" {
		return o.ParentOpportunityID
	}
	if o.IsRecurring {
		return o.ID
	}
	return ""
}

// Organization represents a host organization
type Organization struct {
	ID                    string                      `json:"id"`
	Name                  string                      `json:"name"`
	Email                 string                      `json:"email"`
	NotificationFrequency model.NotificationFrequency `json:"notificationFrequency"`
	OpportunityIDs        []model.OpportunityRef      `json:"opportunityIds"`
}

// User represents a volunteer
type User struct {
	ID                    string                      `json:"id"`
	FirstName             string                      `json:"firstName"`
	LastName              string                      `json:"lastName"`
	Email                 string                      `json:"email"`
	NotificationFrequency model.NotificationFrequency `json:"notificationFrequency"`
	Commitments           []model.OpportunityRef      `json:"commitments"`
}

// FullName joins first and last name
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// ChatMessage is an immutable message posted on an opportunity
type ChatMessage struct {
	ID               string           `json:"id"`
	OpportunityID    string           `json:"opportunityId"`
	SenderID         string           `json:"senderId"`
	SenderEmail      string           `json:"senderEmail"`
	SenderName       string           `json:"senderName"`
	SenderType       model.SenderType `json:"senderType"`
	ActingAdminEmail string           `json:"actingAdminEmail,omitempty"`
	Text             string           `json:"text"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// LedgerEntry records the last notification sent to a recipient about an opportunity
type LedgerEntry struct {
	OpportunityID string    `json:"opportunityId"`
	Email         string    `json:"email"`
	LastSentAt    time.Time `json:"lastSentAt"`
}
