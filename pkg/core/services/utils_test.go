package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakechorley/community-connect/internal/testutil"
	"github.com/jakechorley/community-connect/pkg/core/apperrors"
	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

func TestSortByDate_ParentFirstOnTies(t *testing.T) {
	opps := []db.Opportunity{
		{ID: "c2", Date: "2024-06-10", ParentOpportunityID: "p"},
		{ID: "c1", Date: "2024-06-03", ParentOpportunityID: "p"},
		{ID: "p", Date: "2024-06-03", IsRecurring: true},
	}

	sortByDate(opps)

	assert.Equal(t, []string{"p", "c1", "c2"}, opportunityIDs(opps))
}

func TestFilterOnOrAfter(t *testing.T) {
	opps := []db.Opportunity{
		{ID: "a", Date: "2024-06-03"},
		{ID: "b", Date: "2024-06-10"},
		{ID: "c", Date: "2024-06-17"},
	}

	filtered := filterOnOrAfter(opps, "2024-06-10")

	require.Len(t, filtered, 2)
	assert.Equal(t, "b", filtered[0].ID)
	assert.Equal(t, "c", filtered[1].ID)
	assert.Empty(t, filterOnOrAfter(opps, "2025-01-01"))
}

func TestAllRefs_IncludesLegacyEncoding(t *testing.T) {
	legacy := int64(9)
	refs := allRefs([]db.Opportunity{{ID: "a", LegacyID: &legacy}, {ID: "b"}})

	require.Len(t, refs, 3)
	assert.True(t, model.ContainsAny(refs, []model.OpportunityRef{model.NumericRef(9)}))
	assert.True(t, model.ContainsAny(refs, []model.OpportunityRef{model.GeneratedRef("b")}))
}

func TestGetOpportunity_MapsStoreErrors(t *testing.T) {
	store := testutil.NewMemDB()

	_, err := getOpportunity(context.Background(), store, model.GeneratedRef("missing"))
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	store.FailOn("GetOpportunity", errors.New("connection reset"))
	_, err = getOpportunity(context.Background(), store, model.GeneratedRef("missing"))
	assert.True(t, errors.Is(err, apperrors.ErrSystem))
}

func TestValidateFields(t *testing.T) {
	tests := []struct {
		name    string
		fields  db.OpportunityFields
		wantErr bool
	}{
		{name: "valid title", fields: db.OpportunityFields{Title: strPtr("Beach clean")}},
		{name: "blank title", fields: db.OpportunityFields{Title: strPtr(" ")}, wantErr: true},
		{name: "zero spots", fields: db.OpportunityFields{TotalSpots: intPtr(0)}, wantErr: true},
		{name: "bad contact email", fields: db.OpportunityFields{ContactEmail: strPtr("not-an-email")}, wantErr: true},
		{name: "cleared contact email", fields: db.OpportunityFields{ContactEmail: strPtr("")}},
		{name: "bad arrival time", fields: db.OpportunityFields{ArrivalTime: strPtr("9am")}, wantErr: true},
		{name: "valid departure time", fields: db.OpportunityFields{DepartureTime: strPtr("17:30")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFields(tt.fields)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperrors.ErrValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
