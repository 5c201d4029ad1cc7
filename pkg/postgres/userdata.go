package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

const userDataColumns = `user_id, capabilities, attendance_mode, shift_partner_id, email, display_name`

func scanUserData(row pgx.Row) (*db.ShiftUserData, error) {
	var u db.ShiftUserData
	var mode string
	if err := row.Scan(&u.UserID, &u.Capabilities, &mode, &u.ShiftPartnerID,
		&u.Email, &u.DisplayName); err != nil {
		return nil, err
	}
	u.AttendanceMode = db.AttendanceMode(mode)
	return &u, nil
}

// GetShiftUserData retrieves a member's shift metadata
func (d *DB) GetShiftUserData(ctx context.Context, userID string) (*db.ShiftUserData, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+userDataColumns+`
		FROM shift_user_data
		WHERE user_id = $1
	`, userID)
	u, err := scanUserData(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shift user data: %w", err)
	}
	return u, nil
}

// GetAllShiftUserData retrieves every member's shift metadata
func (d *DB) GetAllShiftUserData(ctx context.Context) ([]db.ShiftUserData, error) {
	rows, err := d.q.Query(ctx, `
		SELECT `+userDataColumns+`
		FROM shift_user_data
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shift user data: %w", err)
	}
	defer rows.Close()

	var data []db.ShiftUserData
	for rows.Next() {
		u, err := scanUserData(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shift user data: %w", err)
		}
		data = append(data, *u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shift user data: %w", err)
	}

	return data, nil
}

// UpdateShiftUserData upserts a member's shift metadata
func (d *DB) UpdateShiftUserData(ctx context.Context, data *db.ShiftUserData) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_user_data (user_id, capabilities, attendance_mode, shift_partner_id, email, display_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET capabilities = $2, attendance_mode = $3, shift_partner_id = $4, email = $5, display_name = $6
	`, data.UserID, data.Capabilities, string(data.AttendanceMode), data.ShiftPartnerID,
		data.Email, data.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to update shift user data: %w", err)
	}
	return nil
}

// GetShiftPartnerOf resolves the inverse of the shift partner relation,
// returning the member whose partner is the given user
func (d *DB) GetShiftPartnerOf(ctx context.Context, userID string) (*db.ShiftUserData, error) {
	row := d.q.QueryRow(ctx, `
		SELECT `+userDataColumns+`
		FROM shift_user_data
		WHERE shift_partner_id = $1
	`, userID)
	u, err := scanUserData(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shift user data: %w", err)
	}
	return u, nil
}
