package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// GetExemption retrieves one exemption by ID
func (d *DB) GetExemption(ctx context.Context, id string) (*db.ShiftExemption, error) {
	var e db.ShiftExemption
	err := d.q.QueryRow(ctx, `
		SELECT id, user_id, start_date, end_date, description
		FROM shift_exemption
		WHERE id = $1
	`, id).Scan(&e.ID, &e.UserID, &e.StartDate, &e.EndDate, &e.Description)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query exemption: %w", err)
	}
	return &e, nil
}

// GetExemptionsForUser retrieves a member's exemptions
func (d *DB) GetExemptionsForUser(ctx context.Context, userID string) ([]db.ShiftExemption, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, user_id, start_date, end_date, description
		FROM shift_exemption
		WHERE user_id = $1
		ORDER BY start_date
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exemptions: %w", err)
	}
	defer rows.Close()

	var exemptions []db.ShiftExemption
	for rows.Next() {
		var e db.ShiftExemption
		if err := rows.Scan(&e.ID, &e.UserID, &e.StartDate, &e.EndDate, &e.Description); err != nil {
			return nil, fmt.Errorf("failed to scan exemption: %w", err)
		}
		exemptions = append(exemptions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exemptions: %w", err)
	}

	return exemptions, nil
}

// InsertExemption inserts a new exemption
func (d *DB) InsertExemption(ctx context.Context, exemption *db.ShiftExemption) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO shift_exemption (id, user_id, start_date, end_date, description)
		VALUES ($1, $2, $3, $4, $5)
	`, exemption.ID, exemption.UserID, exemption.StartDate, exemption.EndDate, exemption.Description)
	if err != nil {
		return fmt.Errorf("failed to insert exemption: %w", err)
	}
	return nil
}

// UpdateExemption updates an existing exemption
func (d *DB) UpdateExemption(ctx context.Context, exemption *db.ShiftExemption) error {
	_, err := d.q.Exec(ctx, `
		UPDATE shift_exemption
		SET start_date = $2, end_date = $3, description = $4
		WHERE id = $1
	`, exemption.ID, exemption.StartDate, exemption.EndDate, exemption.Description)
	if err != nil {
		return fmt.Errorf("failed to update exemption: %w", err)
	}
	return nil
}

// DeleteExemption removes an exemption
func (d *DB) DeleteExemption(ctx context.Context, id string) error {
	_, err := d.q.Exec(ctx, `
		DELETE FROM shift_exemption WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete exemption: %w", err)
	}
	return nil
}

// GetMembershipPausesForUser retrieves a member's membership pauses
func (d *DB) GetMembershipPausesForUser(ctx context.Context, userID string) ([]db.MembershipPause, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id, user_id, start_date, end_date, description
		FROM membership_pause
		WHERE user_id = $1
		ORDER BY start_date
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership pauses: %w", err)
	}
	defer rows.Close()

	var pauses []db.MembershipPause
	for rows.Next() {
		var p db.MembershipPause
		if err := rows.Scan(&p.ID, &p.UserID, &p.StartDate, &p.EndDate, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan membership pause: %w", err)
		}
		pauses = append(pauses, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating membership pauses: %w", err)
	}

	return pauses, nil
}

// InsertMembershipPause inserts a new membership pause
func (d *DB) InsertMembershipPause(ctx context.Context, pause *db.MembershipPause) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO membership_pause (id, user_id, start_date, end_date, description)
		VALUES ($1, $2, $3, $4, $5)
	`, pause.ID, pause.UserID, pause.StartDate, pause.EndDate, pause.Description)
	if err != nil {
		return fmt.Errorf("failed to insert membership pause: %w", err)
	}
	return nil
}
