package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

const opportunityColumns = `id, legacy_id, title, description, category, date, arrival_time, departure_time,
	total_spots, filled_spots, location, contact_email, contact_phone, organization_id,
	is_recurring, frequency, day_filter, parent_opportunity_id, created_at, updated_at`

func scanOpportunity(row pgx.Row) (db.Opportunity, error) {
	var o db.Opportunity
	var date time.Time
	var frequency, parentID *string
	err := row.Scan(
		&o.ID, &o.LegacyID, &o.Title, &o.Description, &o.Category, &date, &o.ArrivalTime, &o.DepartureTime,
		&o.TotalSpots, &o.FilledSpots, &o.Location, &o.ContactEmail, &o.ContactPhone, &o.OrganizationID,
		&o.IsRecurring, &frequency, &o.DayFilter, &parentID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Date = model.FormatDate(date)
	if frequency != nil {
		o.Frequency = model.RecurrenceFrequency(*frequency)
	}
	if parentID != nil {
		o.ParentOpportunityID = *parentID
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetOpportunity resolves a reference in either encoding
func (d *DB) GetOpportunity(ctx context.Context, ref model.OpportunityRef) (*db.Opportunity, error) {
	var row pgx.Row
	if n, ok := ref.Numeric(); ok {
		row = d.pool.QueryRow(ctx, `SELECT `+opportunityColumns+` FROM opportunity WHERE legacy_id = $1`, n)
	} else if id, ok := ref.Generated(); ok {
		row = d.pool.QueryRow(ctx, `SELECT `+opportunityColumns+` FROM opportunity WHERE id = $1`, strings.ToLower(id))
	} else {
		return nil, db.ErrNotFound
	}

	o, err := scanOpportunity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunity: %w", err)
	}
	return &o, nil
}

// GetOpportunityFamily retrieves the parent and every child pointing at it
func (d *DB) GetOpportunityFamily(ctx context.Context, parentID string) ([]db.Opportunity, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunity
		WHERE id = $1 OR parent_opportunity_id = $1
		ORDER BY date, created_at
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunity family: %w", err)
	}
	defer rows.Close()

	var family []db.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		family = append(family, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opportunities: %w", err)
	}

	return family, nil
}

func insertOpportunity(ctx context.Context, tx pgx.Tx, opp *db.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if opp.CreatedAt.IsZero() {
		opp.CreatedAt = now
	}
	opp.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO opportunity (`+opportunityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		opp.ID, opp.LegacyID, opp.Title, opp.Description, opp.Category, opp.Date, opp.ArrivalTime, opp.DepartureTime,
		opp.TotalSpots, opp.FilledSpots, opp.Location, opp.ContactEmail, opp.ContactPhone, opp.OrganizationID,
		opp.IsRecurring, nullable(string(opp.Frequency)), opp.DayFilter, nullable(opp.ParentOpportunityID), opp.CreatedAt, opp.UpdatedAt,
	)
	return err
}

// InsertOpportunity inserts a single opportunity
func (d *DB) InsertOpportunity(ctx context.Context, opp *db.Opportunity) error {
	batch := []db.Opportunity{*opp}
	if err := d.InsertOpportunities(ctx, batch); err != nil {
		return err
	}
	*opp = batch[0]
	return nil
}

// InsertOpportunities inserts a batch of opportunities in one transaction
func (d *DB) InsertOpportunities(ctx context.Context, opps []db.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i := range opps {
		if err := insertOpportunity(ctx, tx, &opps[i]); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to insert opportunity for %s: %w", opps[i].Date, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit opportunities: %w", err)
	}
	return nil
}

// updateAssignments builds the SET clause for a partial update. Placeholders
// start at $2; $1 is reserved for the id list.
func updateAssignments(fields db.OpportunityFields) ([]string, []any) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}

	if fields.Title != nil {
		add("title", *fields.Title)
	}
	if fields.Description != nil {
		add("description", *fields.Description)
	}
	if fields.Category != nil {
		add("category", *fields.Category)
	}
	if fields.ArrivalTime != nil {
		add("arrival_time", *fields.ArrivalTime)
	}
	if fields.DepartureTime != nil {
		add("departure_time", *fields.DepartureTime)
	}
	if fields.TotalSpots != nil {
		add("total_spots", *fields.TotalSpots)
	}
	if fields.Location != nil {
		add("location", *fields.Location)
	}
	if fields.ContactEmail != nil {
		add("contact_email", *fields.ContactEmail)
	}
	if fields.ContactPhone != nil {
		add("contact_phone", *fields.ContactPhone)
	}
	if fields.ParentOpportunityID != nil {
		add("parent_opportunity_id", nullable(*fields.ParentOpportunityID))
	}

	if fields.UnsetRecurrence {
		sets = append(sets, "is_recurring = FALSE", "frequency = NULL", "day_filter = NULL")
	} else {
		if fields.IsRecurring != nil {
			add("is_recurring", *fields.IsRecurring)
		}
		if fields.Frequency != nil {
			add("frequency", nullable(string(*fields.Frequency)))
		}
		if fields.DayFilter != nil {
			add("day_filter", fields.DayFilter)
		}
	}

	if len(sets) > 0 {
		sets = append(sets, "updated_at = NOW()")
	}
	return sets, args
}

// UpdateOpportunities applies the same partial update to every listed opportunity
func (d *DB) UpdateOpportunities(ctx context.Context, ids []string, fields db.OpportunityFields) (int, error) {
	sets, args := updateAssignments(fields)
	if len(sets) == 0 || len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE opportunity SET ` + strings.Join(sets, ", ") + ` WHERE id = ANY($1)`
	tag, err := d.pool.Exec(ctx, query, append([]any{ids}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("failed to update opportunities: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOpportunities deletes every listed opportunity
func (d *DB) DeleteOpportunities(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := d.pool.Exec(ctx, `DELETE FROM opportunity WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete opportunities: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AdjustFilledSpots changes filled_spots by delta in a single guarded statement
func (d *DB) AdjustFilledSpots(ctx context.Context, id string, delta int) (bool, error) {
	tag, err := d.pool.Exec(ctx, `
		UPDATE opportunity
		SET filled_spots = filled_spots + $2, updated_at = NOW()
		WHERE id = $1 AND filled_spots + $2 >= 0 AND filled_spots + $2 <= total_spots
	`, id, delta)
	if err != nil {
		return false, fmt.Errorf("failed to adjust filled spots: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
