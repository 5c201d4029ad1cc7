package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// HasCycleEntry reports whether the cycle has already been applied to the
// member's account
func (d *DB) HasCycleEntry(ctx context.Context, userID string, cycleStart time.Time) (bool, error) {
	var exists bool
	err := d.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM shift_cycle_entry
			WHERE user_id = $1 AND cycle_start_date = $2
		)
	`, userID, cycleStart).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query cycle entry: %w", err)
	}
	return exists, nil
}

// InsertCycleEntry inserts a new cycle entry
func (d *DB) InsertCycleEntry(ctx context.Context, entry *db.ShiftCycleEntry) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_cycle_entry (id, user_id, cycle_start_date, account_entry_id)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.UserID, entry.CycleStartDate, entry.AccountEntryID)
	if err != nil {
		return fmt.Errorf("failed to insert cycle entry: %w", err)
	}
	return nil
}
