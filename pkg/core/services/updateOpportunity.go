package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// UpdateOpportunityStore defines the database operations needed to update opportunities
type UpdateOpportunityStore interface {
	FamilyStore
	UpdateOpportunities(ctx context.Context, ids []string, fields db.OpportunityFields) (int, error)
}

// UpdateInput describes an organization's edit of an opportunity
type UpdateInput struct {
	Anchor            model.OpportunityRef
	OrganizationID    string
	Fields            db.OpportunityFields
	DisableRecurrence bool
	// Series extends an edit anchored on a child to the rest of its family
	Series bool
	// Cutoff is the first date that is edited; earlier instances are history
	Cutoff time.Time
}

// PropagateUpdate applies an edit to an opportunity. An edit anchored on a
// family parent, or on a child with Series set, is written to every member of
// the family dated on or after the cutoff. A child edited on its own and a
// standalone opportunity change alone. Returns the number of records updated.
func PropagateUpdate(ctx context.Context, store UpdateOpportunityStore, logger *zap.Logger, in UpdateInput) (int, error) {
	logger.Debug("Starting propagateUpdate",
		zap.String("anchor", in.Anchor.String()),
		zap.String("organization_id", in.OrganizationID),
		zap.Bool("series", in.Series))

	// Step 1: Validate input
	if in.Fields.IsEmpty() && !in.DisableRecurrence {
		return 0, apperrors.Validation("no fields to update")
	}
	if err := validateFields(in.Fields); err != nil {
		return 0, err
	}

	// Step 2: Resolve anchor and check ownership
	anchor, err := getOpportunity(ctx, store, in.Anchor)
	if err != nil {
		return 0, err
	}
	if err := checkOwnership(*anchor, in.OrganizationID); err != nil {
		return 0, err
	}

	// Step 3: Work out which records the edit covers
	targets := []db.Opportunity{*anchor}
	if anchor.IsParent() || (in.Series && anchor.FamilyID() != "") {
		family, err := loadFamily(ctx, store, *anchor)
		if err != nil {
			return 0, err
		}

		cutoff := model.FormatDate(in.Cutoff)
		if in.Cutoff.IsZero() {
			cutoff = model.FormatDate(time.Now())
		}
		targets = filterOnOrAfter(family, cutoff)
		logger.Debug("Propagating to future family members",
			zap.String("cutoff", cutoff),
			zap.Int("family_size", len(family)),
			zap.Int("targets", len(targets)))
	}

	// Spot totals may never drop below what volunteers already hold
	if in.Fields.TotalSpots != nil {
		for _, o := range targets {
			if *in.Fields.TotalSpots < o.FilledSpots {
				return 0, apperrors.Validation("totalSpots %d is below the %d spots already filled on %s",
					*in.Fields.TotalSpots, o.FilledSpots, o.Date)
			}
		}
	}

	// Step 4: Write the edit
	updated := 0
	touchedAnchor := false
	if !in.Fields.IsEmpty() && len(targets) > 0 {
		ids := opportunityIDs(targets)
		updated, err = store.UpdateOpportunities(ctx, ids, in.Fields)
		if err != nil {
			return 0, apperrors.System("failed to update opportunities", err)
		}
		for _, id := range ids {
			if id == anchor.ID {
				touchedAnchor = true
			}
		}
	}

	// Step 5: Drop recurrence fields from the edited record
	if in.DisableRecurrence && (anchor.IsRecurring || anchor.Frequency != "" || len(anchor.DayFilter) > 0) {
		n, err := store.UpdateOpportunities(ctx, []string{anchor.ID}, db.OpportunityFields{UnsetRecurrence: true})
		if err != nil {
			return updated, apperrors.System("failed to remove recurrence", err)
		}
		if !touchedAnchor {
			updated += n
		}
		logger.Debug("Removed recurrence fields", zap.String("id", anchor.ID))
	}

	logger.Info("Updated opportunities",
		zap.String("anchor_id", anchor.ID),
		zap.Int("updated", updated))

	return updated, nil
}
