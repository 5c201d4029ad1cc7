package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// RegisterToSlotTemplate registers a member to a recurring ABCD slot. Only
// shift managers can do this. Already generated future slots of the template
// are backfilled: the member gets a pending attendance on each of them, or an
// excused one when the shift was already cancelled.
func RegisterToSlotTemplate(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, slotTemplateID, userID string, now time.Time) (*db.ShiftAttendanceTemplate, error) {
	if !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can register members to recurring slots")
	}

	userData, err := store.GetShiftUserData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shift user data: %w", err)
	}
	if userData == nil {
		return nil, validationErrorf("user_id", "unknown member %s", userID)
	}

	shiftTemplate, slotTemplate, err := findSlotTemplate(ctx, store, slotTemplateID)
	if err != nil {
		return nil, err
	}
	if !userData.HasCapabilities(slotTemplate.RequiredCapabilities) {
		return nil, validationErrorf("user_id", "member is missing required capabilities")
	}

	occupied, err := store.GetAttendanceTemplateForSlotTemplate(ctx, slotTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attendance template: %w", err)
	}
	if occupied != nil {
		return nil, validationErrorf("slot_template_id", "the recurring slot is already taken")
	}

	existing, err := store.GetAttendanceTemplatesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member's attendance templates: %w", err)
	}
	for _, other := range existing {
		if sameShiftTemplate, err := belongsToShiftTemplate(ctx, store, other.SlotTemplateID, shiftTemplate.ID); err != nil {
			return nil, err
		} else if sameShiftTemplate {
			return nil, validationErrorf("user_id", "member is already registered to this recurring shift")
		}
	}

	attendanceTemplate := &db.ShiftAttendanceTemplate{
		ID:             newID(),
		UserID:         userID,
		SlotTemplateID: slotTemplateID,
	}

	futureSlots, err := store.GetSlotsForSlotTemplate(ctx, slotTemplateID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch generated slots: %w", err)
	}

	var backfilled int
	err = store.Transact(ctx, func(tx db.Store) error {
		if err := tx.InsertAttendanceTemplate(ctx, attendanceTemplate); err != nil {
			return fmt.Errorf("failed to insert attendance template: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogCreateAttendanceTemplate, actor, userID,
			fmt.Sprintf("Registered to recurring shift %s, slot %s", shiftTemplate.Name, slotTemplate.Name))); err != nil {
			return fmt.Errorf("failed to log template registration: %w", err)
		}

		for _, slot := range futureSlots {
			created, err := backfillSlot(ctx, tx, slot, userID, now)
			if err != nil {
				return err
			}
			if created {
				backfilled++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Member registered to recurring slot",
		zap.String("user_id", userID),
		zap.String("slot_template_id", slotTemplateID),
		zap.Int("backfilled_attendances", backfilled))
	return attendanceTemplate, nil
}

// backfillSlot creates the attendance for an already generated slot, if the
// slot is still free and the member is not exempted on that date. Cancelled
// future shifts get an excused attendance so the member is not charged.
func backfillSlot(ctx context.Context, tx db.Store, slot db.ShiftSlot, userID string, now time.Time) (bool, error) {
	shift, err := tx.GetShift(ctx, slot.ShiftID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch shift: %w", err)
	}
	if shift == nil || shift.Lifecycle != db.ShiftActive {
		return false, nil
	}

	attendances, err := tx.GetAttendancesForSlot(ctx, slot.ID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch slot attendances: %w", err)
	}
	if db.ValidAttendance(attendances) != nil {
		return false, nil
	}

	exempted, err := isExemptedAt(ctx, tx, userID, shift.StartTime)
	if err != nil {
		return false, err
	}
	if exempted {
		return false, nil
	}

	state := db.AttendancePending
	if shift.Cancelled {
		state = db.AttendanceMissedExcused
	}
	attendance := &db.ShiftAttendance{
		ID:              newID(),
		UserID:          userID,
		SlotID:          slot.ID,
		State:           state,
		LastStateUpdate: now,
	}
	if shift.Cancelled {
		attendance.ExcusedReason = shift.CancelledReason
	}
	if err := tx.InsertAttendance(ctx, attendance); err != nil {
		return false, fmt.Errorf("failed to insert backfilled attendance: %w", err)
	}
	return true, nil
}

// UnregisterFromSlotTemplate removes a member's recurring registration and
// cancels the pending attendances it generated on future shifts. Only shift
// managers can do this.
func UnregisterFromSlotTemplate(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, attendanceTemplateID, reason string, now time.Time) error {
	if !actor.CanManageShifts {
		return permissionErrorf("only shift managers can unregister members from recurring slots")
	}

	template, err := findAttendanceTemplate(ctx, store, attendanceTemplateID)
	if err != nil {
		return err
	}
	return unregisterTemplate(ctx, store, logger, actor, template, reason, now)
}

// unregisterTemplate is the shared core of manager unregistration, freeze
// cascades and exemption cascades. It runs inside its own transaction.
func unregisterTemplate(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, template *db.ShiftAttendanceTemplate, reason string, now time.Time) error {
	cancelled := 0
	err := store.Transact(ctx, func(tx db.Store) error {
		n, err := cancelTemplateAttendances(ctx, tx, template, reason, now)
		if err != nil {
			return err
		}
		cancelled = n

		if err := tx.DeleteAttendanceTemplate(ctx, template.ID); err != nil {
			return fmt.Errorf("failed to delete attendance template: %w", err)
		}
		message := "Unregistered from recurring slot"
		if reason != "" {
			message = message + ": " + reason
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogDeleteAttendanceTemplate, actor, template.UserID, message)); err != nil {
			return fmt.Errorf("failed to log template deletion: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Member unregistered from recurring slot",
		zap.String("user_id", template.UserID),
		zap.String("slot_template_id", template.SlotTemplateID),
		zap.Int("cancelled_attendances", cancelled))
	return nil
}

// cancelTemplateAttendances cancels the member's pending attendances on
// future generated shifts of the template's slot. Must run inside a
// transaction.
func cancelTemplateAttendances(ctx context.Context, tx db.Store, template *db.ShiftAttendanceTemplate, reason string, now time.Time) (int, error) {
	slots, err := tx.GetSlotsForSlotTemplate(ctx, template.SlotTemplateID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch generated slots: %w", err)
	}

	cancelled := 0
	for _, slot := range slots {
		attendances, err := tx.GetAttendancesForSlot(ctx, slot.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch slot attendances: %w", err)
		}
		for i := range attendances {
			attendance := &attendances[i]
			if attendance.UserID != template.UserID || !db.StateIn(attendance.State, db.ExpectedToShowUpStates) {
				continue
			}
			attendance.State = db.AttendanceCancelled
			attendance.ExcusedReason = reason
			attendance.LastStateUpdate = now
			if err := tx.UpdateAttendance(ctx, attendance); err != nil {
				return 0, fmt.Errorf("failed to cancel attendance: %w", err)
			}
			cancelled++
		}
	}
	return cancelled, nil
}

func findSlotTemplate(ctx context.Context, store db.Store, slotTemplateID string) (*db.ShiftTemplate, *db.ShiftSlotTemplate, error) {
	templates, err := store.GetShiftTemplates(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch shift templates: %w", err)
	}
	for i := range templates {
		slotTemplates, err := store.GetSlotTemplates(ctx, templates[i].ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch slot templates: %w", err)
		}
		for j := range slotTemplates {
			if slotTemplates[j].ID == slotTemplateID {
				return &templates[i], &slotTemplates[j], nil
			}
		}
	}
	return nil, nil, validationErrorf("slot_template_id", "unknown slot template %s", slotTemplateID)
}

func belongsToShiftTemplate(ctx context.Context, store db.Store, slotTemplateID, shiftTemplateID string) (bool, error) {
	slotTemplates, err := store.GetSlotTemplates(ctx, shiftTemplateID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch slot templates: %w", err)
	}
	for _, st := range slotTemplates {
		if st.ID == slotTemplateID {
			return true, nil
		}
	}
	return false, nil
}

func findAttendanceTemplate(ctx context.Context, store db.Store, attendanceTemplateID string) (*db.ShiftAttendanceTemplate, error) {
	template, err := store.GetAttendanceTemplate(ctx, attendanceTemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch attendance template: %w", err)
	}
	if template == nil {
		return nil, validationErrorf("attendance_template_id", "unknown attendance template %s", attendanceTemplateID)
	}
	return template, nil
}
