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

// InsertChatMessage inserts a chat message, assigning an id when empty
func (d *DB) InsertChatMessage(ctx context.Context, msg *db.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO chat_message (id, opportunity_id, sender_id, sender_email, sender_name, sender_type, acting_admin_email, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.OpportunityID, msg.SenderID, msg.SenderEmail, msg.SenderName, string(msg.SenderType), msg.ActingAdminEmail, msg.Text, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// ListChatMessagesSince retrieves messages created at or after since, oldest first
func (d *DB) ListChatMessagesSince(ctx context.Context, since time.Time) ([]db.ChatMessage, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, opportunity_id, sender_id, sender_email, sender_name, sender_type, acting_admin_email, text, created_at
		FROM chat_message
		WHERE created_at >= $1
		ORDER BY created_at
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var messages []db.ChatMessage
	for rows.Next() {
		var m db.ChatMessage
		var senderType string
		if err := rows.Scan(&m.ID, &m.OpportunityID, &m.SenderID, &m.SenderEmail, &m.SenderName, &senderType, &m.ActingAdminEmail, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		m.SenderType = model.SenderType(senderType)
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %w", err)
	}

	return messages, nil
}

// GetLedgerEntry retrieves the last notification sent to email about an opportunity
func (d *DB) GetLedgerEntry(ctx context.Context, opportunityID, email string) (*db.LedgerEntry, error) {
	entry := db.LedgerEntry{OpportunityID: opportunityID, Email: strings.ToLower(email)}
	err := d.pool.QueryRow(ctx, `
		SELECT last_sent_at FROM notification_ledger
		WHERE opportunity_id = $1 AND email = $2
	`, entry.OpportunityID, entry.Email).Scan(&entry.LastSentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification ledger: %w", err)
	}
	entry.LastSentAt = entry.LastSentAt.UTC()
	return &entry, nil
}

// UpsertLedgerEntry records a sent notification
func (d *DB) UpsertLedgerEntry(ctx context.Context, entry db.LedgerEntry) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO notification_ledger (opportunity_id, email, last_sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (opportunity_id, email) DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
	`, entry.OpportunityID, strings.ToLower(entry.Email), entry.LastSentAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert notification ledger: %w", err)
	}
	return nil
}

// DeleteLedgerEntriesBefore deletes entries last written before cutoff
func (d *DB) DeleteLedgerEntriesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM notification_ledger WHERE last_sent_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune notification ledger: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
