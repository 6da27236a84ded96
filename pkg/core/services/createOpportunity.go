package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/core/recurrence"
	"github.com/jakechorley/community-connect/pkg/db"
	"github.com/jakechorley/community-connect/pkg/metrics"
)

// OpportunityForm is an organization's opportunity submission
type OpportunityForm struct {
	OrganizationID string                    `json:"organizationId" validate:"required"`
	Title          string                    `json:"title" validate:"required,max=200"`
	Description    string                    `json:"description" validate:"required"`
	Category       string                    `json:"category" validate:"required"`
	Date           string                    `json:"date" validate:"required,datetime=2006-01-02"`
	ArrivalTime    string                    `json:"arrivalTime" validate:"omitempty,datetime=15:04"`
	DepartureTime  string                    `json:"departureTime" validate:"omitempty,datetime=15:04"`
	TotalSpots     int                       `json:"totalSpots" validate:"required,min=1"`
	Location       string                    `json:"location" validate:"required"`
	ContactEmail   string                    `json:"contactEmail" validate:"omitempty,email"`
	ContactPhone   string                    `json:"contactPhone"`
	IsRecurring    bool                      `json:"isRecurring"`
	Frequency      model.RecurrenceFrequency `json:"frequency" validate:"omitempty,oneof=daily weekly monthly"`
	DayFilter      []string                  `json:"dayFilter"`
}

// CreateResult represents a newly created opportunity or recurring family
type CreateResult struct {
	Parent   db.Opportunity
	Children []db.Opportunity
}

// All returns the parent followed by its children in date order
func (r *CreateResult) All() []db.Opportunity {
	return append([]db.Opportunity{r.Parent}, r.Children...)
}

// CreateOpportunityStore defines the database operations needed to create opportunities
type CreateOpportunityStore interface {
	GetOrganization(ctx context.Context, id string) (*db.Organization, error)
	InsertOpportunity(ctx context.Context, opp *db.Opportunity) error
	InsertOpportunities(ctx context.Context, opps []db.Opportunity) error
	DeleteOpportunities(ctx context.Context, ids []string) (int, error)
	AddOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error
}

// CreateOpportunity validates the form, expands any recurrence rule and persists
// the resulting family. Writes happen parent first, then children as one batch,
// and the family is linked to the organization last, so readers following the
// organization's references never see a partial family.
func CreateOpportunity(
	ctx context.Context,
	store CreateOpportunityStore,
	logger *zap.Logger,
	horizonMonths int,
	form OpportunityForm,
	now time.Time,
) (*CreateResult, error) {
	logger.Debug("Starting createOpportunity",
		zap.String("organization_id", form.OrganizationID),
		zap.Bool("recurring", form.IsRecurring))

	// Step 1: Validate form
	if err := validate.Struct(form); err != nil {
		return nil, apperrors.ValidationWrap(validationMessage(err), err)
	}
	start, err := model.ParseDate(form.Date)
	if err != nil {
		return nil, apperrors.ValidationWrap("invalid date", err)
	}

	// Step 2: Work out instance dates
	dates := []time.Time{start}
	if form.IsRecurring {
		if form.Frequency == "" {
			return nil, apperrors.Validation("frequency is required for recurring opportunities")
		}
		if err := recurrence.ValidateDayFilter(form.DayFilter); err != nil {
			return nil, err
		}
		dates, err = recurrence.Expand(recurrence.Rule{Frequency: form.Frequency, DayFilter: form.DayFilter}, start, horizonMonths)
		if err != nil {
			return nil, err
		}
	}
	logger.Debug("Calculated instance dates",
		zap.Int("count", len(dates)),
		zap.String("first", model.FormatDate(dates[0])),
		zap.String("last", model.FormatDate(dates[len(dates)-1])))

	// Step 3: Check the organization exists
	if _, err := store.GetOrganization(ctx, form.OrganizationID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperrors.NotFound("organization", form.OrganizationID)
		}
		return nil, apperrors.System("failed to fetch organization", err)
	}

	// Step 4: Build and insert the parent
	template := db.Opportunity{
		Title:          form.Title,
		Description:    form.Description,
		Category:       form.Category,
		ArrivalTime:    form.ArrivalTime,
		DepartureTime:  form.DepartureTime,
		TotalSpots:     form.TotalSpots,
		FilledSpots:    0,
		Location:       form.Location,
		ContactEmail:   form.ContactEmail,
		ContactPhone:   form.ContactPhone,
		OrganizationID: form.OrganizationID,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}

	parent := template
	parent.Date = model.FormatDate(dates[0])
	if form.IsRecurring {
		parent.IsRecurring = true
		parent.Frequency = form.Frequency
		parent.DayFilter = append([]string(nil), form.DayFilter...)
	}

	if err := store.InsertOpportunity(ctx, &parent); err != nil {
		return nil, apperrors.System("failed to insert opportunity", err)
	}
	logger.Debug("Inserted parent opportunity", zap.String("id", parent.ID), zap.String("date", parent.Date))

	// Step 5: Insert children as one batch
	children := make([]db.Opportunity, 0, len(dates)-1)
	for _, d := range dates[1:] {
		child := template
		child.Date = model.FormatDate(d)
		child.ParentOpportunityID = parent.ID
		children = append(children, child)
	}

	if len(children) > 0 {
		if err := store.InsertOpportunities(ctx, children); err != nil {
			logger.Warn("Failed to insert recurring instances, removing parent",
				zap.String("parent_id", parent.ID),
				zap.Error(err))
			if _, delErr := store.DeleteOpportunities(ctx, []string{parent.ID}); delErr != nil {
				logger.Error("Failed to remove parent after failed batch insert",
					zap.String("parent_id", parent.ID),
					zap.Error(delErr))
			}
			return nil, apperrors.System("failed to insert recurring instances", err)
		}
		logger.Debug("Inserted recurring instances", zap.Int("count", len(children)))
	}

	result := &CreateResult{Parent: parent, Children: children}

	// Step 6: Advertise the family on the organization
	if err := store.AddOrganizationOpportunities(ctx, form.OrganizationID, allRefs(result.All())); err != nil {
		logger.Warn("Failed to link opportunities to organization, removing family",
			zap.String("organization_id", form.OrganizationID),
			zap.Error(err))
		if len(children) > 0 {
			if _, delErr := store.DeleteOpportunities(ctx, opportunityIDs(children)); delErr != nil {
				logger.Error("Failed to remove recurring instances", zap.Error(delErr))
			}
		}
		if _, delErr := store.DeleteOpportunities(ctx, []string{parent.ID}); delErr != nil {
			logger.Error("Failed to remove parent opportunity", zap.Error(delErr))
		}
		return nil, apperrors.System("failed to link opportunities to organization", err)
	}

	kind := "single"
	if form.IsRecurring {
		kind = "recurring"
	}
	metrics.OpportunitiesCreatedTotal.WithLabelValues(kind).Add(float64(len(dates)))

	logger.Info("Created opportunity",
		zap.String("id", parent.ID),
		zap.String("organization_id", form.OrganizationID),
		zap.Int("instances", len(dates)))

	return result, nil
}
