package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// GiveSolidarityShift converts one of the member's completed shifts into a
// solidarity shift other members can draw on. The donated point leaves the
// giver's account immediately. Shifts received through solidarity cannot be
// donated again.
func GiveSolidarityShift(ctx context.Context, store db.Store, logger *zap.Logger, settings Settings, actor Actor, userID string, now time.Time) (*db.SolidarityShift, error) {
	if !settings.SolidarityShiftsEnabled {
		return nil, configurationErrorf("solidarity shifts are not enabled")
	}
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can give solidarity shifts for other members")
	}

	attendance, err := store.GetDoneNonSolidarityAttendanceForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch donatable attendance: %w", err)
	}
	if attendance == nil {
		return nil, configurationErrorf("the member has no completed shift to donate")
	}

	solidarity := &db.SolidarityShift{
		ID:           newID(),
		GiverUserID:  userID,
		AttendanceID: attendance.ID,
		DateGiven:    now,
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		attendance.IsSolidarity = true
		if err := tx.UpdateAttendance(ctx, attendance); err != nil {
			return fmt.Errorf("failed to mark attendance as solidarity: %w", err)
		}
		if err := tx.InsertSolidarityShift(ctx, solidarity); err != nil {
			return fmt.Errorf("failed to insert solidarity shift: %w", err)
		}
		if err := tx.InsertAccountEntry(ctx, &db.ShiftAccountEntry{
			ID:          newID(),
			UserID:      userID,
			Value:       -1,
			Date:        now,
			Description: "Solidarity shift given",
		}); err != nil {
			return fmt.Errorf("failed to insert account entry: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogSolidarityGiven, actor, userID,
			"Donated a completed shift to the solidarity pool")); err != nil {
			return fmt.Errorf("failed to log solidarity donation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Solidarity shift given",
		zap.String("user_id", userID),
		zap.String("attendance_id", attendance.ID))
	return solidarity, nil
}

// UseSolidarityShift credits the member with the oldest available solidarity
// shift. Each member may receive a limited number per calendar year.
func UseSolidarityShift(ctx context.Context, store db.Store, logger *zap.Logger, settings Settings, actor Actor, userID string, now time.Time) (*db.SolidarityShift, error) {
	if !settings.SolidarityShiftsEnabled {
		return nil, configurationErrorf("solidarity shifts are not enabled")
	}
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can use solidarity shifts for other members")
	}

	used, err := store.CountSolidarityShiftsUsedInYear(ctx, userID, now.Year())
	if err != nil {
		return nil, fmt.Errorf("failed to count used solidarity shifts: %w", err)
	}
	if used >= settings.SolidarityUsesPerYear {
		return nil, validationErrorf("user_id", "the member already received %d solidarity shifts this year",
			settings.SolidarityUsesPerYear)
	}

	// The oldest-available lookup locks the row it returns, so it has to run
	// inside the same transaction that marks the shift as used. Otherwise two
	// concurrent calls could claim the same credit.
	var solidarity *db.SolidarityShift
	err = store.Transact(ctx, func(tx db.Store) error {
		oldest, err := tx.GetOldestAvailableSolidarityShift(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch available solidarity shift: %w", err)
		}
		if oldest == nil {
			return configurationErrorf("no solidarity shift is available")
		}
		solidarity = oldest

		solidarity.UsedUp = true
		usedAt := now
		solidarity.DateUsed = &usedAt
		recipient := userID
		solidarity.UsedByUserID = &recipient
		if err := tx.UpdateSolidarityShift(ctx, solidarity); err != nil {
			return fmt.Errorf("failed to mark solidarity shift as used: %w", err)
		}
		if err := tx.InsertAccountEntry(ctx, &db.ShiftAccountEntry{
			ID:          newID(),
			UserID:      userID,
			Value:       1,
			Date:        now,
			Description: "Solidarity shift received",
		}); err != nil {
			return fmt.Errorf("failed to insert account entry: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogSolidarityUsed, actor, userID,
			"Received a shift from the solidarity pool")); err != nil {
			return fmt.Errorf("failed to log solidarity use: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Solidarity shift used",
		zap.String("user_id", userID),
		zap.String("solidarity_shift_id", solidarity.ID))
	return solidarity, nil
}
