package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// InsertAccountEntry inserts a new shift account entry
func (d *DB) InsertAccountEntry(ctx context.Context, entry *db.ShiftAccountEntry) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_account_entry (id, user_id, value, date, description)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.UserID, entry.Value, entry.Date, entry.Description)
	if err != nil {
		return fmt.Errorf("failed to insert account entry: %w", err)
	}
	return nil
}

// DeleteAccountEntry removes a shift account entry
func (d *DB) DeleteAccountEntry(ctx context.Context, id string) error {
	_, err := d.q.Exec(ctx, `
		DELETE FROM shift_account_entry WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account entry: %w", err)
	}
	return nil
}

// GetAccountEntriesForUser retrieves a member's account entries, most recent
// first
func (d *DB) GetAccountEntriesForUser(ctx context.Context, userID string) ([]db.ShiftAccountEntry, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, user_id, value, date, description
		FROM shift_account_entry
		WHERE user_id = $1
		ORDER BY date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account entries: %w", err)
	}
	defer rows.Close()

	var entries []db.ShiftAccountEntry
	for rows.Next() {
		var e db.ShiftAccountEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Value, &e.Date, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan account entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account entries: %w", err)
	}

	return entries, nil
}

// GetAccountBalance sums a member's account entries up to the given time. A
// nil at means the current balance
func (d *DB) GetAccountBalance(ctx context.Context, userID string, at *time.Time) (int, error) {
	var balance int
	var err error
	if at == nil {
		err = d.q.QueryRow(ctx, `
			SELECT COALESCE(SUM(value), 0)
			FROM shift_account_entry
			WHERE user_id = $1
		`, userID).Scan(&balance)
	} else {
		err = d.q.QueryRow(ctx, `
			SELECT COALESCE(SUM(value), 0)
			FROM shift_account_entry
			WHERE user_id = $1 AND date <= $2
		`, userID, *at).Scan(&balance)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query account balance: %w", err)
	}
	return balance, nil
}
