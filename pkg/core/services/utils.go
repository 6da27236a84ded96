package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

var validate = validator.New()

// FailedEmail represents an email that failed to send
type FailedEmail struct {
	OpportunityID string
	Email         string
	Error         string
}

// sortByDate orders opportunities by date, parent first on ties
func sortByDate(opps []db.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].Date != opps[j].Date {
			return opps[i].Date < opps[j].Date
		}
		return opps[i].IsParent() && !opps[j].IsParent()
	})
}

// filterOnOrAfter returns the opportunities dated on or after the cutoff date
func filterOnOrAfter(opps []db.Opportunity, cutoff string) []db.Opportunity {
	filtered := make([]db.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.Date >= cutoff {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

// opportunityIDs extracts ids (useful for logging and batch writes)
func opportunityIDs(opps []db.Opportunity) []string {
	ids := make([]string, len(opps))
	for i, o := range opps {
		ids[i] = o.ID
	}
	return ids
}

// allRefs collects every reference encoding of the given opportunities
func allRefs(opps []db.Opportunity) []model.OpportunityRef {
	refs := make([]model.OpportunityRef, 0, len(opps))
	for _, o := range opps {
		refs = append(refs, o.Refs()...)
	}
	return refs
}

type opportunityGetter interface {
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error)
}

// getOpportunity maps store lookups onto the error taxonomy
func getOpportunity(ctx context.Context, store opportunityGetter, ref model.OpportunityRef) (*db.Opportunity, error) {
	opp, err := store.GetOpportunity(ctx, ref)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound("opportunity", ref.String())
	}
	if err != nil {
		return nil, apperrors.System("failed to fetch opportunity", err)
	}
	return opp, nil
}

// validationMessage flattens validator errors into one readable line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// validateFields checks the values of a partial opportunity update
func validateFields(fields db.OpportunityFields) error {
	if fields.Title != nil && strings.TrimSpace(*fields.Title) == "" {
		return apperrors.Validation("title cannot be empty")
	}
	if fields.TotalSpots != nil && *fields.TotalSpots < 1 {
		return apperrors.Validation("totalSpots must be at least 1")
	}
	if fields.ContactEmail != nil {
		if err := validate.Var(*fields.ContactEmail, "omitempty,email"); err != nil {
			return apperrors.Validation("contactEmail is not a valid email address")
		}
	}
	for name, value := range map[string]*string{"arrivalTime": fields.ArrivalTime, "departureTime": fields.DepartureTime} {
		if value == nil {
			continue
		}
		if err := validate.Var(*value, "omitempty,datetime=15:04"); err != nil {
			return apperrors.Validation("%s must be HH:MM", name)
		}
	}
	return nil
}
