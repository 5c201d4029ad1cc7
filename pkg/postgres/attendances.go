package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

const attendanceColumns = `id, user_id, slot_id, state, excused_reason, last_state_update, account_entry_id, is_solidarity, reminder_sent`

func scanAttendance(row pgx.Row) (*db.ShiftAttendance, error) {
	var a db.ShiftAttendance
	var state string
	if err := row.Scan(&a.ID, &a.UserID, &a.SlotID, &state, &a.ExcusedReason,
		&a.LastStateUpdate, &a.AccountEntryID, &a.IsSolidarity, &a.ReminderSent); err != nil {
		return nil, err
	}
	a.State = db.AttendanceState(state)
	return &a, nil
}

// GetAttendance retrieves one attendance by ID
func (d *DB) GetAttendance(ctx context.Context, id string) (*db.ShiftAttendance, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM shift_attendance
		WHERE id = $1
	`, id)
	a, err := scanAttendance(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan attendance: %w", err)
	}
	return a, nil
}

const attendanceDetailQuery = `
	SELECT a.id, a.user_id, a.slot_id, a.state, a.excused_reason, a.last_state_update,
		a.account_entry_id, a.is_solidarity, a.reminder_sent,
		sl.name, sl.slot_template_id,
		s.id, s.name, s.start_time, s.end_time, s.cancelled
	FROM shift_attendance a
	JOIN shift_slot sl ON sl.id = a.slot_id
	JOIN shift s ON s.id = sl.shift_id`

func scanAttendanceDetail(row pgx.Row) (*db.AttendanceDetail, error) {
	var detail db.AttendanceDetail
	var state string
	a := &detail.Attendance
	if err := row.Scan(&a.ID, &a.UserID, &a.SlotID, &state, &a.ExcusedReason,
		&a.LastStateUpdate, &a.AccountEntryID, &a.IsSolidarity, &a.ReminderSent,
		&detail.SlotName, &detail.SlotTemplateID,
		&detail.ShiftID, &detail.ShiftName, &detail.ShiftStart, &detail.ShiftEnd,
		&detail.ShiftCancelled); err != nil {
		return nil, err
	}
	a.State = db.AttendanceState(state)
	return &detail, nil
}

// GetAttendanceDetail retrieves an attendance joined with its slot and shift
func (d *DB) GetAttendanceDetail(ctx context.Context, id string) (*db.AttendanceDetail, error) {
	row := d.q.QueryRow(ctx, attendanceDetailQuery+`
	WHERE a.id = $1`, id)
	detail, err := scanAttendanceDetail(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan attendance detail: %w", err)
	}
	return detail, nil
}

// GetAttendancesForSlot retrieves every attendance of a slot
func (d *DB) GetAttendancesForSlot(ctx context.Context, slotID string) ([]db.ShiftAttendance, error) {
	rows, err := d.q.Query(ctx, `
		SELECT `+attendanceColumns+`
		FROM shift_attendance
		WHERE slot_id = $1
		ORDER BY id
	`, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendances: %w", err)
	}
	defer rows.Close()

	return collectAttendances(rows)
}

// GetAttendancesForShiftAndUser retrieves a member's attendances on any slot
// of a shift
func (d *DB) GetAttendancesForShiftAndUser(ctx context.Context, shiftID, userID string) ([]db.ShiftAttendance, error) {
	rows, err := d.q.Query(ctx, `
		SELECT a.id, a.user_id, a.slot_id, a.state, a.excused_reason, a.last_state_update,
			a.account_entry_id, a.is_solidarity, a.reminder_sent
		FROM shift_attendance a
		JOIN shift_slot sl ON sl.id = a.slot_id
		WHERE sl.shift_id = $1 AND a.user_id = $2
	`, shiftID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendances: %w", err)
	}
	defer rows.Close()

	return collectAttendances(rows)
}

func collectAttendances(rows pgx.Rows) ([]db.ShiftAttendance, error) {
	var attendances []db.ShiftAttendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		attendances = append(attendances, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendances: %w", err)
	}

	return attendances, nil
}

// GetExpectedAttendancesForUser retrieves the attendances where the member is
// still expected to show up, for shifts starting at or after from
func (d *DB) GetExpectedAttendancesForUser(ctx context.Context, userID string, from time.Time) ([]db.AttendanceDetail, error) {
	rows, err := d.q.Query(ctx, attendanceDetailQuery+`
	WHERE a.user_id = $1
		AND a.state IN ('pending', 'looking_for_stand_in')
		AND s.start_time >= $2
		AND s.lifecycle = 'active'
	ORDER BY s.start_time`, userID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query expected attendances: %w", err)
	}
	defer rows.Close()

	var details []db.AttendanceDetail
	for rows.Next() {
		detail, err := scanAttendanceDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance detail: %w", err)
		}
		details = append(details, *detail)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance details: %w", err)
	}

	return details, nil
}

// GetDoneNonSolidarityAttendanceForUser retrieves one of the member's DONE
// attendances that has not been given away yet, or nil if none is left
func (d *DB) GetDoneNonSolidarityAttendanceForUser(ctx context.Context, userID string) (*db.ShiftAttendance, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+attendanceColumns+`
		FROM shift_attendance
		WHERE user_id = $1 AND state = 'done' AND NOT is_solidarity
		ORDER BY last_state_update
		LIMIT 1
	`, userID)
	a, err := scanAttendance(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan attendance: %w", err)
	}
	return a, nil
}

// InsertAttendance inserts a new attendance
func (d *DB) InsertAttendance(ctx context.Context, attendance *db.ShiftAttendance) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_attendance (id, user_id, slot_id, state, excused_reason,
			last_state_update, account_entry_id, is_solidarity, reminder_sent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, attendance.ID, attendance.UserID, attendance.SlotID, string(attendance.State),
		attendance.ExcusedReason, attendance.LastStateUpdate, attendance.AccountEntryID,
		attendance.IsSolidarity, attendance.ReminderSent)
	if err != nil {
		return fmt.Errorf("failed to insert attendance: %w", err)
	}
	return nil
}

// UpdateAttendance updates an existing attendance
func (d *DB) UpdateAttendance(ctx context.Context, attendance *db.ShiftAttendance) error {
	_, err := d.q.Exec(ctx, `
		UPDATE shift_attendance
		SET state = $2, excused_reason = $3, last_state_update = $4,
			account_entry_id = $5, is_solidarity = $6, reminder_sent = $7
		WHERE id = $1
	`, attendance.ID, string(attendance.State), attendance.ExcusedReason,
		attendance.LastStateUpdate, attendance.AccountEntryID, attendance.IsSolidarity,
		attendance.ReminderSent)
	if err != nil {
		return fmt.Errorf("failed to update attendance: %w", err)
	}
	return nil
}
