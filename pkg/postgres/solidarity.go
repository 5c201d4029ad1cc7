package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// InsertSolidarityShift inserts a new solidarity shift
func (d *DB) InsertSolidarityShift(ctx context.Context, shift *db.SolidarityShift) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO solidarity_shift (id, giver_user_id, attendance_id, date_given, used_up, date_used, used_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, shift.ID, shift.GiverUserID, shift.AttendanceID, shift.DateGiven, shift.UsedUp,
		shift.DateUsed, shift.UsedByUserID)
	if err != nil {
		return fmt.Errorf("failed to insert solidarity shift: %w", err)
	}
	return nil
}

// UpdateSolidarityShift updates an existing solidarity shift
func (d *DB) UpdateSolidarityShift(ctx context.Context, shift *db.SolidarityShift) error {
	_, err := d.q.Exec(ctx, `
		UPDATE solidarity_shift
		SET used_up = $2, date_used = $3, used_by_user_id = $4
		WHERE id = $1
	`, shift.ID, shift.UsedUp, shift.DateUsed, shift.UsedByUserID)
	if err != nil {
		return fmt.Errorf("failed to update solidarity shift: %w", err)
	}
	return nil
}

// GetOldestAvailableSolidarityShift retrieves the unused solidarity shift
// that was given first, or nil if the pool is empty
func (d *DB) GetOldestAvailableSolidarityShift(ctx context.Context) (*db.SolidarityShift, error) {
	var s db.SolidarityShift
	err := d.q.QueryRow(ctx, `
		SELECT id, giver_user_id, attendance_id, date_given, used_up, date_used, used_by_user_id
		FROM solidarity_shift
		WHERE NOT used_up
		ORDER BY date_given
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`).Scan(&s.ID, &s.GiverUserID, &s.AttendanceID, &s.DateGiven, &s.UsedUp, &s.DateUsed, &s.UsedByUserID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query solidarity shift: %w", err)
	}
	return &s, nil
}

// CountSolidarityShiftsUsedInYear counts how many solidarity shifts the
// member received in the calendar year
func (d *DB) CountSolidarityShiftsUsedInYear(ctx context.Context, userID string, year int) (int, error) {
	var count int
	err := d.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM solidarity_shift
		WHERE used_by_user_id = $1 AND used_up AND EXTRACT(YEAR FROM date_used) = $2
	`, userID, year).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count used solidarity shifts: %w", err)
	}
	return count, nil
}
