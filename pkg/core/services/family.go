package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// FamilyStore defines the database operations needed to walk a recurring family
type FamilyStore interface {
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error)
	GetOpportunityFamily(ctx context.Context, parentID string) ([]db.Opportunity, error)
}

// ListFamily returns the family the referenced opportunity belongs to, in date
// order. A standalone opportunity is returned on its own.
func ListFamily(ctx context.Context, store FamilyStore, logger *zap.Logger, ref model.OpportunityRef) ([]db.Opportunity, error) {
	anchor, err := getOpportunity(ctx, store, ref)
	if err != nil {
		return nil, err
	}

	family, err := loadFamily(ctx, store, *anchor)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded opportunity family",
		zap.String("anchor_id", anchor.ID),
		zap.String("family_id", anchor.FamilyID()),
		zap.Int("count", len(family)))

	return family, nil
}

// loadFamily returns the anchor's family sorted by date, or just the anchor
func loadFamily(ctx context.Context, store FamilyStore, anchor db.Opportunity) ([]db.Opportunity, error) {
	familyID := anchor.FamilyID()
	if familyID == "" {
		return []db.Opportunity{anchor}, nil
	}

	family, err := store.GetOpportunityFamily(ctx, familyID)
	if err != nil {
		return nil, apperrors.System("failed to fetch opportunity family", err)
	}

	// The anchor may be an orphaned child whose parent is already gone
	found := false
	for _, o := range family {
		if o.ID == anchor.ID {
			found = true
			break
		}
	}
	if !found {
		family = append(family, anchor)
	}

	sortByDate(family)
	return family, nil
}

// checkOwnership fails with NotAuthorized unless organizationID owns opp
func checkOwnership(opp db.Opportunity, organizationID string) error {
	if organizationID == "" || opp.OrganizationID != organizationID {
		return apperrors.NotAuthorized("organization %q does not own opportunity %s", organizationID, opp.ID)
	}
	return nil
}
