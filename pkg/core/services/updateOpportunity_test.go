package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func titlesByDate(opps []db.Opportunity) map[string]string {
	out := make(map[string]string)
	for _, o := range opps {
		out[o.Date] = o.Title
	}
	return out
}

func TestPropagateUpdate_FutureFamilyMembersOnly(t *testing.T) {
	store := newStore()
	// Mondays 2024-06-03 .. 2024-07-01
	result := createFamily(t, store, weeklyForm("Monday"), 1)
	require.Len(t, result.All(), 5)

	updated, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(result.Parent.ID),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{Title: strPtr("Harbour clean")},
		Cutoff:         time.Date(2024, 6, 17, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	titles := titlesByDate(store.Opportunities())
	assert.Equal(t, "Beach clean", titles["2024-06-03"])
	assert.Equal(t, "Beach clean", titles["2024-06-10"])
	assert.Equal(t, "Harbour clean", titles["2024-06-17"])
	assert.Equal(t, "Harbour clean", titles["2024-06-24"])
	assert.Equal(t, "Harbour clean", titles["2024-07-01"])
}

func TestPropagateUpdate_ChildAloneChangesOneRecord(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, weeklyForm("Monday"), 1)

	// 2024-06-17, dated before the cutoff
	anchor := result.Children[1]
	updated, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(anchor.ID),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{Location: strPtr("North beach")},
		Cutoff:         time.Date(2024, 6, 24, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	changed := 0
	for _, o := range store.Opportunities() {
		if o.Location == "North beach" {
			changed++
			assert.Equal(t, anchor.ID, o.ID)
		}
	}
	assert.Equal(t, 1, changed)
}

func TestPropagateUpdate_ChildSeriesPropagates(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, weeklyForm("Monday"), 1)

	anchor := result.Children[len(result.Children)-1]
	updated, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(anchor.ID),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{Location: strPtr("North beach")},
		Series:         true,
		Cutoff:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, updated)
	for _, o := range store.Opportunities() {
		assert.Equal(t, "North beach", o.Location)
		assert.Equal(t, 10, o.TotalSpots)
	}
}

func TestPropagateUpdate_StandaloneOnly(t *testing.T) {
	store := newStore()
	single := createFamily(t, store, baseForm(), 3)
	other := createFamily(t, store, baseForm(), 3)

	updated, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(single.Parent.ID),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{Title: strPtr("Renamed")},
		Cutoff:         time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	for _, o := range store.Opportunities() {
		if o.ID == other.Parent.ID {
			assert.Equal(t, "Beach clean", o.Title)
		} else {
			assert.Equal(t, "Renamed", o.Title)
		}
	}
}

func TestPropagateUpdate_NotAuthorized(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, weeklyForm("Monday"), 1)

	_, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(result.Parent.ID),
		OrganizationID: "org-2",
		Fields:         db.OpportunityFields{Title: strPtr("Hijacked")},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotAuthorized))
	for _, o := range store.Opportunities() {
		assert.Equal(t, "Beach clean", o.Title)
	}
}

func TestPropagateUpdate_DisableRecurrence(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, weeklyForm("Monday"), 1)

	_, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:            model.GeneratedRef(result.Parent.ID),
		OrganizationID:    "org-1",
		DisableRecurrence: true,
		Cutoff:            time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	for _, o := range store.Opportunities() {
		if o.ID == result.Parent.ID {
			assert.False(t, o.IsRecurring)
			assert.Empty(t, o.Frequency)
			assert.Empty(t, o.DayFilter)
		}
	}
}

func TestPropagateUpdate_TotalBelowFilled(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, baseForm(), 3)
	opp := result.Parent
	opp.FilledSpots = 6
	store.PutOpportunity(opp)

	_, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(opp.ID),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{TotalSpots: intPtr(5)},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestPropagateUpdate_RejectsEmptyAndInvalidFields(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, baseForm(), 3)

	_, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(result.Parent.ID),
		OrganizationID: "org-1",
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.GeneratedRef(result.Parent.ID),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{Title: strPtr("  ")},
	})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestPropagateUpdate_UnknownOpportunity(t *testing.T) {
	store := newStore()

	_, err := PropagateUpdate(context.Background(), store, zap.NewNop(), UpdateInput{
		Anchor:         model.NumericRef(12345),
		OrganizationID: "org-1",
		Fields:         db.OpportunityFields{Title: strPtr("x")},
	})

	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestListFamily_DateOrder(t *testing.T) {
	store := newStore()
	result := createFamily(t, store, weeklyForm("Thursday", "Monday"), 1)

	family, err := ListFamily(context.Background(), store, zap.NewNop(), model.GeneratedRef(result.Children[3].ID))
	require.NoError(t, err)
	require.Len(t, family, len(result.All()))
	assert.Equal(t, result.Parent.ID, family[0].ID)
	for i := 1; i < len(family); i++ {
		assert.LessOrEqual(t, family[i-1].Date, family[i].Date)
	}
}
