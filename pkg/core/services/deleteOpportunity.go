package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// DeleteOpportunityStore defines the database operations needed to delete opportunities
type DeleteOpportunityStore interface {
	FamilyStore
	UpdateOpportunities(ctx context.Context, ids []string, fields db.OpportunityFields) (int, error)
	DeleteOpportunities(ctx context.Context, ids []string) (int, error)
	RemoveOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error
}

// DeleteInput describes an organization's delete request
type DeleteInput struct {
	Anchor            model.OpportunityRef
	OrganizationID    string
	DeleteWholeFamily bool
	Today             time.Time
}

// PropagateDelete removes the anchor, or with DeleteWholeFamily every member of
// its family dated today or later. Past instances are kept. Children are
// deleted before their parent and the organization's references are cleaned
// up afterwards. A parent deleted on its own is replaced by its earliest child
// only once the delete has succeeded. Returns the number of records deleted.
func PropagateDelete(ctx context.Context, store DeleteOpportunityStore, logger *zap.Logger, in DeleteInput) (int, error) {
	logger.Debug("Starting propagateDelete",
		zap.String("anchor", in.Anchor.String()),
		zap.String("organization_id", in.OrganizationID),
		zap.Bool("whole_family", in.DeleteWholeFamily))

	// Step 1: Resolve anchor and check ownership
	anchor, err := getOpportunity(ctx, store, in.Anchor)
	if err != nil {
		return 0, err
	}
	if err := checkOwnership(*anchor, in.OrganizationID); err != nil {
		return 0, err
	}

	// Step 2: Work out targets
	var targets []db.Opportunity
	if in.DeleteWholeFamily && anchor.FamilyID() != "" {
		family, err := loadFamily(ctx, store, *anchor)
		if err != nil {
			return 0, err
		}
		today := in.Today
		if today.IsZero() {
			today = time.Now()
		}
		targets = filterOnOrAfter(family, model.FormatDate(today))
		logger.Debug("Deleting future family members",
			zap.String("today", model.FormatDate(today)),
			zap.Int("family_size", len(family)),
			zap.Int("targets", len(targets)))
	} else {
		targets = []db.Opportunity{*anchor}
	}

	// A parent deleted on its own leaves children that need a new parent
	var orphans []db.Opportunity
	if !in.DeleteWholeFamily && anchor.IsParent() {
		orphans, err = familyChildren(ctx, store, *anchor)
		if err != nil {
			return 0, err
		}
	}

	if len(targets) == 0 {
		logger.Info("No opportunities to delete", zap.String("anchor_id", anchor.ID))
		return 0, nil
	}

	// Step 3: Delete children before the parent
	var children []string
	var parents []string
	for _, o := range targets {
		if o.IsParent() {
			parents = append(parents, o.ID)
		} else {
			children = append(children, o.ID)
		}
	}

	deleted := 0
	if len(children) > 0 {
		n, err := store.DeleteOpportunities(ctx, children)
		if err != nil {
			return 0, apperrors.System("failed to delete opportunities", err)
		}
		deleted += n
	}
	if len(parents) > 0 {
		n, err := store.DeleteOpportunities(ctx, parents)
		if err != nil {
			return deleted, apperrors.System("failed to delete parent opportunity", err)
		}
		deleted += n
	}

	// Step 4: Unlink from the organization
	if err := store.RemoveOrganizationOpportunities(ctx, anchor.OrganizationID, allRefs(targets)); err != nil {
		return deleted, apperrors.System("failed to unlink deleted opportunities from organization", err)
	}

	// Step 5: Hand the family to the earliest remaining child
	if len(orphans) > 0 {
		if err := promoteSuccessor(ctx, store, logger, *anchor, orphans); err != nil {
			return deleted, apperrors.System(
				fmt.Sprintf("deleted parent %s but its children %s have no parent", anchor.ID, strings.Join(opportunityIDs(orphans), ", ")),
				err)
		}
	}

	logger.Info("Deleted opportunities",
		zap.String("anchor_id", anchor.ID),
		zap.Int("deleted", deleted))

	return deleted, nil
}

// familyChildren returns the children of parent in date order
func familyChildren(ctx context.Context, store DeleteOpportunityStore, parent db.Opportunity) ([]db.Opportunity, error) {
	family, err := store.GetOpportunityFamily(ctx, parent.ID)
	if err != nil {
		return nil, apperrors.System("failed to fetch opportunity family", err)
	}

	var children []db.Opportunity
	for _, o := range family {
		if o.ID != parent.ID {
			children = append(children, o)
		}
	}
	sortByDate(children)
	return children, nil
}

// promoteSuccessor hands the recurrence rule of a deleted parent to the
// earliest of its children and re-points the rest at it, so the family keeps
// exactly one parent. children must be in date order.
func promoteSuccessor(ctx context.Context, store DeleteOpportunityStore, logger *zap.Logger, parent db.Opportunity, children []db.Opportunity) error {
	successor := children[0]
	recurring := true
	noParent := ""
	frequency := parent.Frequency
	if _, err := store.UpdateOpportunities(ctx, []string{successor.ID}, db.OpportunityFields{
		IsRecurring:         &recurring,
		Frequency:           &frequency,
		DayFilter:           append([]string{}, parent.DayFilter...),
		ParentOpportunityID: &noParent,
	}); err != nil {
		return fmt.Errorf("failed to promote new parent: %w", err)
	}

	if len(children) > 1 {
		newParent := successor.ID
		if _, err := store.UpdateOpportunities(ctx, opportunityIDs(children[1:]), db.OpportunityFields{
			ParentOpportunityID: &newParent,
		}); err != nil {
			return fmt.Errorf("failed to re-point family members: %w", err)
		}
	}

	logger.Debug("Promoted new family parent",
		zap.String("old_parent_id", parent.ID),
		zap.String("new_parent_id", successor.ID),
		zap.Int("children", len(children)-1))

	return nil
}
