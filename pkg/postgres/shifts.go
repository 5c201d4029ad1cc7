package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

const shiftColumns = `id, shift_template_id, name, description, start_time, end_time, num_required_attendances, cancelled, cancelled_reason, lifecycle`

func scanShift(row pgx.Row) (*db.Shift, error) {
	var s db.Shift
	var lifecycle string
	if err := row.Scan(&s.ID, &s.ShiftTemplateID, &s.Name, &s.Description, &s.StartTime,
		&s.EndTime, &s.NumRequiredAttendances, &s.Cancelled, &s.CancelledReason, &lifecycle); err != nil {
		return nil, err
	}
	s.Lifecycle = db.ShiftLifecycle(lifecycle)
	return &s, nil
}

// GetShift retrieves one shift by ID
func (d *DB) GetShift(ctx context.Context, id string) (*db.Shift, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+shiftColumns+`
		FROM shift
		WHERE id = $1
	`, id)
	s, err := scanShift(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shift: %w", err)
	}
	return s, nil
}

// GetShiftByTemplateAndStart retrieves the shift generated from a template at
// a start time, or nil if none was generated yet
func (d *DB) GetShiftByTemplateAndStart(ctx context.Context, templateID string, start time.Time) (*db.Shift, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+shiftColumns+`
		FROM shift
		WHERE shift_template_id = $1 AND start_time = $2 AND lifecycle = 'active'
	`, templateID, start)
	s, err := scanShift(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shift: %w", err)
	}
	return s, nil
}

// GetFutureShiftsForTemplate retrieves the active shifts of a template that
// start after the given time
func (d *DB) GetFutureShiftsForTemplate(ctx context.Context, templateID string, after time.Time) ([]db.Shift, error) {
	rows, err := d.q.Query(ctx, `
		SELECT `+shiftColumns+`
		FROM shift
		WHERE shift_template_id = $1 AND start_time > $2 AND lifecycle = 'active'
		ORDER BY start_time
	`, templateID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query future shifts: %w", err)
	}
	defer rows.Close()

	var shifts []db.Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift: %w", err)
		}
		shifts = append(shifts, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shifts: %w", err)
	}

	return shifts, nil
}

// InsertShift inserts a new shift
func (d *DB) InsertShift(ctx context.Context, shift *db.Shift) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift (id, shift_template_id, name, description, start_time, end_time,
			num_required_attendances, cancelled, cancelled_reason, lifecycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, shift.ID, shift.ShiftTemplateID, shift.Name, shift.Description, shift.StartTime,
		shift.EndTime, shift.NumRequiredAttendances, shift.Cancelled, shift.CancelledReason,
		string(shift.Lifecycle))
	if err != nil {
		return fmt.Errorf("failed to insert shift: %w", err)
	}
	return nil
}

// UpdateShift updates an existing shift
func (d *DB) UpdateShift(ctx context.Context, shift *db.Shift) error {
	_, err := d.q.Exec(ctx, `
		UPDATE shift
		SET name = $2, description = $3, start_time = $4, end_time = $5,
			num_required_attendances = $6, cancelled = $7, cancelled_reason = $8, lifecycle = $9
		WHERE id = $1
	`, shift.ID, shift.Name, shift.Description, shift.StartTime, shift.EndTime,
		shift.NumRequiredAttendances, shift.Cancelled, shift.CancelledReason, string(shift.Lifecycle))
	if err != nil {
		return fmt.Errorf("failed to update shift: %w", err)
	}
	return nil
}

// GetSlot retrieves one slot by ID
func (d *DB) GetSlot(ctx context.Context, id string) (*db.ShiftSlot, error) {
	var s db.ShiftSlot
	err := d.q.QueryRow(ctx, `
		SELECT id, shift_id, slot_template_id, name, required_capabilities
		FROM shift_slot
		WHERE id = $1
	`, id).Scan(&s.ID, &s.ShiftID, &s.SlotTemplateID, &s.Name, &s.RequiredCapabilities)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query slot: %w", err)
	}
	return &s, nil
}

// GetSlotsForShift retrieves the slots of a shift
func (d *DB) GetSlotsForShift(ctx context.Context, shiftID string) ([]db.ShiftSlot, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, shift_id, slot_template_id, name, required_capabilities
		FROM shift_slot
		WHERE shift_id = $1
		ORDER BY id
	`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	return collectSlots(rows)
}

// GetSlotsForSlotTemplate retrieves the generated slots of a slot template
// whose shift starts after the given time
func (d *DB) GetSlotsForSlotTemplate(ctx context.Context, slotTemplateID string, after time.Time) ([]db.ShiftSlot, error) {
	rows, err := d.q.Query(ctx, `
		SELECT sl.id, sl.shift_id, sl.slot_template_id, sl.name, sl.required_capabilities
		FROM shift_slot sl
		JOIN shift s ON s.id = sl.shift_id
		WHERE sl.slot_template_id = $1 AND s.start_time > $2 AND s.lifecycle = 'active'
		ORDER BY s.start_time
	`, slotTemplateID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]db.ShiftSlot, error) {
	var slots []db.ShiftSlot
	for rows.Next() {
		var s db.ShiftSlot
		if err := rows.Scan(&s.ID, &s.ShiftID, &s.SlotTemplateID, &s.Name, &s.RequiredCapabilities); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slots: %w", err)
	}

	return slots, nil
}

// InsertSlot inserts a new slot
func (d *DB) InsertSlot(ctx context.Context, slot *db.ShiftSlot) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_slot (id, shift_id, slot_template_id, name, required_capabilities)
		VALUES ($1, $2, $3, $4, $5)
	`, slot.ID, slot.ShiftID, slot.SlotTemplateID, slot.Name, slot.RequiredCapabilities)
	if err != nil {
		return fmt.Errorf("failed to insert slot: %w", err)
	}
	return nil
}

// UpdateSlot updates an existing slot
func (d *DB) UpdateSlot(ctx context.Context, slot *db.ShiftSlot) error {
	_, err := d.q.Exec(ctx, `
		UPDATE shift_slot
		SET name = $2, required_capabilities = $3
		WHERE id = $1
	`, slot.ID, slot.Name, slot.RequiredCapabilities)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	return nil
}
