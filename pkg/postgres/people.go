package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakechorley/community-connect/pkg/core/model"
	"github.com/jakechorley/community-connect/pkg/db"
)

// refValues encodes references as JSON scalars for comparison against JSONB
// array elements: legacy ids as numbers, generated ids as strings.
func refValues(refs []model.OpportunityRef) ([]string, error) {
	values := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		b, err := json.Marshal(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to encode opportunity reference %s: %w", ref, err)
		}
		values = append(values, string(b))
	}
	return values, nil
}

// GetOrganization retrieves an organization by id
func (d *DB) GetOrganization(ctx context.Context, id string) (*db.Organization, error) {
	var org db.Organization
	var frequency string
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, email, notification_frequency, opportunity_ids
		FROM organization
		WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Email, &frequency, &org.OpportunityIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query organization: %w", err)
	}
	org.NotificationFrequency = model.ParseNotificationFrequency(frequency)
	return &org, nil
}

// AddOrganizationOpportunities appends references the organization does not hold yet
func (d *DB) AddOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error {
	values, err := refValues(refs)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx, `
		UPDATE organization
		SET opportunity_ids = opportunity_ids || COALESCE((
			SELECT jsonb_agg(r)
			FROM unnest($2::jsonb[]) AS r
			WHERE NOT EXISTS (
				SELECT 1 FROM jsonb_array_elements(opportunity_ids) AS e WHERE e = r
			)
		), '[]'::jsonb)
		WHERE id = $1
	`, orgID, values)
	if err != nil {
		return fmt.Errorf("failed to add organization opportunities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// RemoveOrganizationOpportunities removes every listed reference
func (d *DB) RemoveOrganizationOpportunities(ctx context.Context, orgID string, refs []model.OpportunityRef) error {
	values, err := refValues(refs)
	if err != nil {
		return err
	}
	tag, err := d.pool.Exec(ctx, `
		UPDATE organization
		SET opportunity_ids = COALESCE((
			SELECT jsonb_agg(e)
			FROM jsonb_array_elements(opportunity_ids) AS e
			WHERE NOT (e = ANY($2::jsonb[]))
		), '[]'::jsonb)
		WHERE id = $1
	`, orgID, values)
	if err != nil {
		return fmt.Errorf("failed to remove organization opportunities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (db.User, error) {
	var u db.User
	var frequency string
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &frequency, &u.Commitments); err != nil {
		return u, err
	}
	u.NotificationFrequency = model.ParseNotificationFrequency(frequency)
	return u, nil
}

// GetUser retrieves a volunteer by id
func (d *DB) GetUser(ctx context.Context, id string) (*db.User, error) {
	u, err := scanUser(d.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, notification_frequency, commitments
		FROM app_user
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// ListCommittedUsers retrieves volunteers committed under any of the given encodings
func (d *DB) ListCommittedUsers(ctx context.Context, refs []model.OpportunityRef) ([]db.User, error) {
	values, err := refValues(refs)
	if err != nil {
		return nil, err
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, first_name, last_name, email, notification_frequency, commitments
		FROM app_user
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(commitments) AS c WHERE c = ANY($1::jsonb[])
		)
		ORDER BY id
	`, values)
	if err != nil {
		return nil, fmt.Errorf("failed to query committed users: %w", err)
	}
	defer rows.Close()

	var users []db.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// AddCommitment appends ref when the user is below max and holds no candidate encoding
func (d *DB) AddCommitment(ctx context.Context, userID string, ref model.OpportunityRef, candidates []model.OpportunityRef, max int) (bool, error) {
	refValue, err := refValues([]model.OpportunityRef{ref})
	if err != nil {
		return false, err
	}
	if len(refValue) == 0 {
		return false, fmt.Errorf("empty opportunity reference")
	}
	values, err := refValues(candidates)
	if err != nil {
		return false, err
	}

	tag, err := d.pool.Exec(ctx, `
		UPDATE app_user
		SET commitments = commitments || jsonb_build_array($2::jsonb)
		WHERE id = $1
		  AND jsonb_array_length(commitments) < $3
		  AND NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(commitments) AS c WHERE c = ANY($4::jsonb[])
		  )
	`, userID, refValue[0], max, values)
	if err != nil {
		return false, fmt.Errorf("failed to add commitment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RemoveCommitment removes every candidate encoding from the user's commitments
func (d *DB) RemoveCommitment(ctx context.Context, userID string, candidates []model.OpportunityRef) (bool, error) {
	values, err := refValues(candidates)
	if err != nil {
		return false, err
	}
	tag, err := d.pool.Exec(ctx, `
		UPDATE app_user
		SET commitments = COALESCE((
			SELECT jsonb_agg(c)
			FROM jsonb_array_elements(commitments) AS c
			WHERE NOT (c = ANY($2::jsonb[]))
		), '[]'::jsonb)
		WHERE id = $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(commitments) AS c WHERE c = ANY($2::jsonb[])
		  )
	`, userID, values)
	if err != nil {
		return false, fmt.Errorf("failed to remove commitment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
