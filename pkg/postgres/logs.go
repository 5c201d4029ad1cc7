package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// InsertLogEntry appends an audit log entry. The database assigns the
// timestamp when the caller leaves it zero
func (d *DB) InsertLogEntry(ctx context.Context, entry *db.LogEntry) error {
	var err error
	if entry.CreatedAt.IsZero() {
		_, err = d.q.Exec(ctx, `
			INSERT INTO log_entry (id, entry_type, actor_id, user_id, message, before_state, after_state)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.ID, string(entry.Type), entry.ActorID, entry.UserID, entry.Message,
			entry.Before, entry.After)
	} else {
		_, err = d.q.Exec(ctx, `
			INSERT INTO log_entry (id, entry_type, actor_id, user_id, message, before_state, after_state, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.ID, string(entry.Type), entry.ActorID, entry.UserID, entry.Message,
			entry.Before, entry.After, entry.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to insert log entry: %w", err)
	}
	return nil
}

// GetLastNotificationSent retrieves the most recent notification log entry of
// the given kind for the member, or nil if none was ever sent
func (d *DB) GetLastNotificationSent(ctx context.Context, userID, kind string) (*db.LogEntry, error) {
	var e db.LogEntry
	var entryType string
	err := d.q.QueryRow(ctx, `
		SELECT id, entry_type, actor_id, user_id, message, before_state, after_state, created_at
		FROM log_entry
		WHERE user_id = $1 AND entry_type = $2 AND message = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, string(db.LogNotificationSent), kind).Scan(
		&e.ID, &entryType, &e.ActorID, &e.UserID, &e.Message, &e.Before, &e.After, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query log entry: %w", err)
	}
	e.Type = db.LogEntryType(entryType)
	return &e, nil
}
