package db

import "github.com/jakechorley/community-connect/pkg/core/model"

// OpportunityFields is a partial update of an opportunity. Nil pointers are left
// unchanged. Date and identity fields are deliberately absent.
type OpportunityFields struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Category      *string `json:"category,omitempty"`
	ArrivalTime   *string `json:"arrivalTime,omitempty"`
	DepartureTime *string `json:"departureTime,omitempty"`
	TotalSpots    *int    `json:"totalSpots,omitempty"`
	Location      *string `json:"location,omitempty"`
	ContactEmail  *string `json:"contactEmail,omitempty"`
	ContactPhone  *string `json:"contactPhone,omitempty"`

	// Recurrence bookkeeping, set by the family services rather than by callers
	IsRecurring         *bool                      `json:"-"`
	Frequency           *model.RecurrenceFrequency `json:"-"`
	DayFilter           []string                   `json:"-"`
	ParentOpportunityID *string                    `json:"-"`
	UnsetRecurrence     bool                       `json:"-"`
}

// IsEmpty reports whether the update changes nothing
func (f OpportunityFields) IsEmpty() bool {
	return f.Title == nil && f.Description == nil && f.Category == nil &&
		f.ArrivalTime == nil && f.DepartureTime == nil && f.TotalSpots == nil &&
		f.Location == nil && f.ContactEmail == nil && f.ContactPhone == nil &&
		f.IsRecurring == nil && f.Frequency == nil && f.DayFilter == nil &&
		f.ParentOpportunityID == nil && !f.UnsetRecurrence
}

// Apply writes the set fields onto opp. UnsetRecurrence clears the
// recurrence-only fields after the other fields are applied.
func (f OpportunityFields) Apply(opp *Opportunity) {
	if f.Title != nil {
		opp.Title = *f.Title
	}
	if f.Description != nil {
		opp.Description = *f.Description
	}
	if f.Category != nil {
		opp.Category = *f.Category
	}
	if f.ArrivalTime != nil {
		opp.ArrivalTime = *f.ArrivalTime
	}
	if f.DepartureTime != nil {
		opp.DepartureTime = *f.DepartureTime
	}
	if f.TotalSpots != nil {
		opp.TotalSpots = *f.TotalSpots
	}
	if f.Location != nil {
		opp.Location = *f.Location
	}
	if f.ContactEmail != nil {
		opp.ContactEmail = *f.ContactEmail
	}
	if f.ContactPhone != nil {
		opp.ContactPhone = *f.ContactPhone
	}
	if f.IsRecurring != nil {
		opp.IsRecurring = *f.IsRecurring
	}
	if f.Frequency != nil {
		opp.Frequency = *f.Frequency
	}
	if f.DayFilter != nil {
		opp.DayFilter = append([]string(nil), f.DayFilter...)
	}
	if f.ParentOpportunityID != nil {
		opp.ParentOpportunityID = *f.ParentOpportunityID
	}
	if f.UnsetRecurrence {
		opp.IsRecurring = false
		opp.Frequency = ""
		opp.DayFilter = nil
	}
}
