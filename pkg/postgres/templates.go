package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// GetTemplateGroups retrieves all shift template groups
func (d *DB) GetTemplateGroups(ctx context.Context) ([]db.ShiftTemplateGroup, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, name
		FROM shift_template_group
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query template groups: %w", err)
	}
	defer rows.Close()

	var groups []db.ShiftTemplateGroup
	for rows.Next() {
		var g db.ShiftTemplateGroup
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan template group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template groups: %w", err)
	}

	return groups, nil
}

const shiftTemplateColumns = `id, name, description, group_id, weekday, start_time, end_time, start_date, num_required_attendances`

func scanShiftTemplate(row pgx.Row) (*db.ShiftTemplate, error) {
	var t db.ShiftTemplate
	var weekday *int
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.GroupID, &weekday,
		&t.StartTime, &t.EndTime, &t.StartDate, &t.NumRequiredAttendances); err != nil {
		return nil, err
	}
	if weekday != nil {
		wd := time.Weekday(*weekday)
		t.Weekday = &wd
	}
	return &t, nil
}

// GetShiftTemplates retrieves all shift templates
func (d *DB) GetShiftTemplates(ctx context.Context) ([]db.ShiftTemplate, error) {
	rows, err := d.q.Query(ctx, `
		SELECT `+shiftTemplateColumns+`
		FROM shift_template
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shift templates: %w", err)
	}
	defer rows.Close()

	var templates []db.ShiftTemplate
	for rows.Next() {
		t, err := scanShiftTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift template: %w", err)
		}
		templates = append(templates, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shift templates: %w", err)
	}

	return templates, nil
}

// GetShiftTemplate retrieves one shift template by ID
func (d *DB) GetShiftTemplate(ctx context.Context, id string) (*db.ShiftTemplate, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+shiftTemplateColumns+`
		FROM shift_template
		WHERE id = $1
	`, id)
	t, err := scanShiftTemplate(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shift template: %w", err)
	}
	return t, nil
}

// GetSlotTemplates retrieves the slot templates of a shift template
func (d *DB) GetSlotTemplates(ctx context.Context, shiftTemplateID string) ([]db.ShiftSlotTemplate, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, shift_template_id, name, required_capabilities
		FROM shift_slot_template
		WHERE shift_template_id = $1
		ORDER BY id
	`, shiftTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slot templates: %w", err)
	}
	defer rows.Close()

	var templates []db.ShiftSlotTemplate
	for rows.Next() {
		var t db.ShiftSlotTemplate
		if err := rows.Scan(&t.ID, &t.ShiftTemplateID, &t.Name, &t.RequiredCapabilities); err != nil {
			return nil, fmt.Errorf("failed to scan slot template: %w", err)
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slot templates: %w", err)
	}

	return templates, nil
}

// GetAttendanceTemplateForSlotTemplate retrieves the recurring registration
// on a slot template, or nil if the slot template is free
func (d *DB) GetAttendanceTemplateForSlotTemplate(ctx context.Context, slotTemplateID string) (*db.ShiftAttendanceTemplate, error) {
	var t db.ShiftAttendanceTemplate
	err := d.q.QueryRow(ctx, `
		SELECT id, user_id, slot_template_id
		FROM shift_attendance_template
		WHERE slot_template_id = $1
	`, slotTemplateID).Scan(&t.ID, &t.UserID, &t.SlotTemplateID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance template: %w", err)
	}
	return &t, nil
}

// GetAttendanceTemplate retrieves one recurring registration by ID
func (d *DB) GetAttendanceTemplate(ctx context.Context, id string) (*db.ShiftAttendanceTemplate, error) {
	var t db.ShiftAttendanceTemplate
	err := d.q.QueryRow(ctx, `
		SELECT id, user_id, slot_template_id
		FROM shift_attendance_template
		WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.SlotTemplateID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance template: %w", err)
	}
	return &t, nil
}

// GetAttendanceTemplatesForUser retrieves a member's recurring registrations
func (d *DB) GetAttendanceTemplatesForUser(ctx context.Context, userID string) ([]db.ShiftAttendanceTemplate, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, user_id, slot_template_id
		FROM shift_attendance_template
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance templates: %w", err)
	}
	defer rows.Close()

	var templates []db.ShiftAttendanceTemplate
	for rows.Next() {
		var t db.ShiftAttendanceTemplate
		if err := rows.Scan(&t.ID, &t.UserID, &t.SlotTemplateID); err != nil {
			return nil, fmt.Errorf("failed to scan attendance template: %w", err)
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance templates: %w", err)
	}

	return templates, nil
}

// InsertAttendanceTemplate inserts a new recurring registration
func (d *DB) InsertAttendanceTemplate(ctx context.Context, template *db.ShiftAttendanceTemplate) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_attendance_template (id, user_id, slot_template_id)
		VALUES ($1, $2, $3)
	`, template.ID, template.UserID, template.SlotTemplateID)
	if err != nil {
		return fmt.Errorf("failed to insert attendance template: %w", err)
	}
	return nil
}

// DeleteAttendanceTemplate removes a recurring registration
func (d *DB) DeleteAttendanceTemplate(ctx context.Context, id string) error {
	_, err := d.q.Exec(ctx, `
		DELETE FROM shift_attendance_template WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attendance template: %w", err)
	}
	return nil
}
