package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// MaxCommitments is how many opportunities a volunteer may be committed to at once
const MaxCommitments = 2

// CommitmentStore defines the database operations needed to manage commitments
type CommitmentStore interface {
	GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error)
	GetUser(ctx context.Context, id string) (*db.User, error)
	AdjustFilledSpots(ctx context.Context, id string, delta int) (bool, error)
	AddCommitment(ctx context.Context, userID string, ref model.OpportunityRef, candidates []model.OpportunityRef, max int) (bool, error)
	RemoveCommitment(ctx context.Context, userID string, candidates []model.OpportunityRef) (bool, error)
}

// CommitToOpportunity takes one spot on the opportunity for the volunteer.
// The spot is reserved first and released again if the commitment cannot be recorded.
func CommitToOpportunity(ctx context.Context, store CommitmentStore, logger *zap.Logger, userID string, ref model.OpportunityRef) (*db.Opportunity, error) {
	logger.Debug("Starting commitToOpportunity", zap.String("user_id", userID), zap.String("opportunity", ref.String()))

	user, err := getUser(ctx, store, userID)
	if err != nil {
		return nil, err
	}
	opp, err := getOpportunity(ctx, store, ref)
	if err != nil {
		return nil, err
	}

	candidates := opp.Refs()
	if model.ContainsAny(user.Commitments, candidates) {
		return nil, apperrors.Validation("already committed to this opportunity")
	}
	if len(user.Commitments) >= MaxCommitments {
		return nil, apperrors.Validation("volunteers can commit to at most %d opportunities", MaxCommitments)
	}

	// Reserve a spot
	ok, err := store.AdjustFilledSpots(ctx, opp.ID, 1)
	if err != nil {
		return nil, apperrors.System("failed to reserve spot", err)
	}
	if !ok {
		return nil, apperrors.Validation("no spots left on this opportunity")
	}

	// Record the commitment, releasing the spot if that fails
	added, err := store.AddCommitment(ctx, userID, opp.Ref(), candidates, MaxCommitments)
	if err != nil || !added {
		if _, relErr := store.AdjustFilledSpots(ctx, opp.ID, -1); relErr != nil {
			logger.Error("Failed to release reserved spot",
				zap.String("opportunity_id", opp.ID),
				zap.Error(relErr))
		}
		if err != nil {
			return nil, apperrors.System("failed to record commitment", err)
		}
		return nil, apperrors.Validation("commitment limit reached")
	}

	opp.FilledSpots++
	logger.Info("Volunteer committed",
		zap.String("user_id", userID),
		zap.String("opportunity_id", opp.ID),
		zap.Int("filled", opp.FilledSpots),
		zap.Int("total", opp.TotalSpots))

	return opp, nil
}

// UncommitFromOpportunity releases the volunteer's spot on the opportunity
func UncommitFromOpportunity(ctx context.Context, store CommitmentStore, logger *zap.Logger, userID string, ref model.OpportunityRef) (*db.Opportunity, error) {
	logger.Debug("Starting uncommitFromOpportunity", zap.String("user_id", userID), zap.String("opportunity", ref.String()))

	if _, err := getUser(ctx, store, userID); err != nil {
		return nil, err
	}
	opp, err := getOpportunity(ctx, store, ref)
	if err != nil {
		return nil, err
	}

	removed, err := store.RemoveCommitment(ctx, userID, opp.Refs())
	if err != nil {
		return nil, apperrors.System("failed to remove commitment", err)
	}
	if !removed {
		return nil, apperrors.Validation("not committed to this opportunity")
	}

	ok, err := store.AdjustFilledSpots(ctx, opp.ID, -1)
	if err != nil {
		return nil, apperrors.System("failed to release spot", err)
	}
	if !ok {
		logger.Warn("Filled spots already at zero", zap.String("opportunity_id", opp.ID))
	} else {
		opp.FilledSpots--
	}

	logger.Info("Volunteer uncommitted",
		zap.String("user_id", userID),
		zap.String("opportunity_id", opp.ID))

	return opp, nil
}

type userGetter interface {
	GetUser(ctx context.Context, id string) (*db.User, error)
}

func getUser(ctx context.Context, store userGetter, id string) (*db.User, error) {
	user, err := store.GetUser(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, apperrors.System("failed to fetch user", err)
	}
	return user, nil
}
