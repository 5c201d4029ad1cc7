package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/core/interval"
	"github.com/rizoma-coop/tapir/pkg/db"
)

// legalTransitions is the attendance state machine. Missing source states
// are terminal.
var legalTransitions = map[db.AttendanceState][]db.AttendanceState{
	db.AttendancePending: {
		db.AttendanceDone,
		db.AttendanceMissed,
		db.AttendanceMissedExcused,
		db.AttendanceCancelled,
		db.AttendanceLookingForStandIn,
	},
	db.AttendanceLookingForStandIn: {
		db.AttendanceCancelled,
		db.AttendancePending,
	},
}

func transitionIsLegal(from, to db.AttendanceState) bool {
	return db.StateIn(to, legalTransitions[from])
}

// RegisterToSlot registers a member to a concrete shift slot. A member may
// register themselves when the slot is free (or its holder is looking for a
// stand-in) and they hold the required capabilities; managers may register
// anyone. Taking over from a stand-in search cancels the old attendance,
// writes a taken-over log entry and notifies the original holder.
func RegisterToSlot(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, calendar CalendarSync, actor Actor, slotID, userID string, now time.Time) (*db.ShiftAttendance, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID && !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can register other members")
	}

	slot, err := store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch slot: %w", err)
	}
	if slot == nil {
		return nil, validationErrorf("slot_id", "unknown slot %s", slotID)
	}
	shift, err := store.GetShift(ctx, slot.ShiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shift: %w", err)
	}
	if shift == nil || shift.Lifecycle != db.ShiftActive {
		return nil, validationErrorf("slot_id", "the shift no longer exists")
	}
	if shift.Cancelled {
		return nil, validationErrorf("slot_id", "the shift is cancelled")
	}
	if !shift.IsInTheFuture(now) {
		return nil, validationErrorf("slot_id", "the shift has already started")
	}

	userData, err := store.GetShiftUserData(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shift user data: %w", err)
	}
	if userData == nil {
		return nil, validationErrorf("user_id", "unknown member %s", userID)
	}
	if !userData.HasCapabilities(slot.RequiredCapabilities) {
		return nil, validationErrorf("user_id", "member is missing required capabilities")
	}

	slotAttendances, err := store.GetAttendancesForSlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch slot attendances: %w", err)
	}
	holder := db.ValidAttendance(slotAttendances)
	if holder != nil && holder.State != db.AttendanceLookingForStandIn {
		return nil, validationErrorf("slot_id", "the slot is already taken")
	}

	shiftAttendances, err := store.GetAttendancesForShiftAndUser(ctx, shift.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shift attendances: %w", err)
	}
	if db.ValidAttendance(shiftAttendances) != nil {
		return nil, validationErrorf("user_id", "member is already registered to this shift")
	}

	attendance := &db.ShiftAttendance{
		ID:              newID(),
		UserID:          userID,
		SlotID:          slotID,
		State:           db.AttendancePending,
		LastStateUpdate: now,
	}

	var takenOverFrom *db.ShiftAttendance
	err = store.Transact(ctx, func(tx db.Store) error {
		// The old attendance must leave the valid states before the new one
		// is inserted, or the unique index on valid attendances per slot
		// rejects the insert.
		if holder != nil {
			holder.State = db.AttendanceCancelled
			holder.LastStateUpdate = now
			if err := tx.UpdateAttendance(ctx, holder); err != nil {
				return fmt.Errorf("failed to cancel stand-in attendance: %w", err)
			}
			if err := tx.InsertLogEntry(ctx, logEntry(db.LogAttendanceTakenOver, actor, holder.UserID,
				fmt.Sprintf("Shift %s: slot taken over by another member", shift.Name))); err != nil {
				return fmt.Errorf("failed to log taken-over attendance: %w", err)
			}
			takenOverFrom = holder
		}

		if err := tx.InsertAttendance(ctx, attendance); err != nil {
			return fmt.Errorf("failed to insert attendance: %w", err)
		}

		if err := tx.InsertLogEntry(ctx, logEntry(db.LogCreateAttendance, actor, userID,
			fmt.Sprintf("Registered to shift %s, slot %s", shift.Name, slot.Name))); err != nil {
			return fmt.Errorf("failed to log attendance creation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Member registered to slot",
		zap.String("user_id", userID),
		zap.String("slot_id", slotID),
		zap.String("shift_id", shift.ID),
		zap.Bool("took_over_stand_in", takenOverFrom != nil))

	if takenOverFrom != nil {
		notify(ctx, store, logger, notifier, Notification{
			Kind:        NotificationStandInFound,
			RecipientID: takenOverFrom.UserID,
			Context: map[string]string{
				"shift_name":  shift.Name,
				"shift_start": shift.StartTime.Format(time.RFC3339),
			},
		})
	}
	syncCalendar(ctx, logger, calendar, db.AttendanceDetail{
		Attendance: *attendance,
		SlotName:   slot.Name,
		ShiftID:    shift.ID,
		ShiftName:  shift.Name,
		ShiftStart: shift.StartTime,
		ShiftEnd:   shift.EndTime,
	})

	return attendance, nil
}

// SetAttendanceState applies one state machine transition. The ledger entry
// linked to the attendance is rewritten for the new state and the transition
// is audited with its before and after states. Managers may apply any legal
// transition; members only the self-service ones inside their time windows.
func SetAttendanceState(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, calendar CalendarSync, settings Settings, actor Actor, attendanceID string, newState db.AttendanceState, description string, now time.Time) error {
	detail, err := store.GetAttendanceDetail(ctx, attendanceID)
	if err != nil {
		return fmt.Errorf("failed to fetch attendance: %w", err)
	}
	if detail == nil {
		return validationErrorf("attendance_id", "unknown attendance %s", attendanceID)
	}
	attendance := detail.Attendance

	if !transitionIsLegal(attendance.State, newState) {
		return validationErrorf("state", "cannot go from %s to %s", attendance.State, newState)
	}
	if err := checkTransitionPermission(ctx, store, settings, actor, detail, newState, now); err != nil {
		return err
	}

	oldState := attendance.State
	attendance.State = newState
	attendance.LastStateUpdate = now
	if newState == db.AttendanceMissedExcused || newState == db.AttendanceCancelled {
		attendance.ExcusedReason = description
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		if err := tx.UpdateAttendance(ctx, &attendance); err != nil {
			return fmt.Errorf("failed to update attendance: %w", err)
		}
		if err := rewriteAccountEntry(ctx, tx, &attendance, detail, description, now); err != nil {
			return err
		}

		entry := logEntry(db.LogUpdateAttendanceState, actor, attendance.UserID,
			fmt.Sprintf("Shift %s, slot %s", detail.ShiftName, detail.SlotName))
		entry.Before = string(oldState)
		entry.After = string(newState)
		if err := tx.InsertLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to log state update: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Attendance state updated",
		zap.String("attendance_id", attendanceID),
		zap.String("user_id", attendance.UserID),
		zap.String("old_state", string(oldState)),
		zap.String("new_state", string(newState)))

	if newState == db.AttendanceMissed {
		notify(ctx, store, logger, notifier, Notification{
			Kind:        NotificationShiftMissed,
			RecipientID: attendance.UserID,
			Context: map[string]string{
				"shift_name":  detail.ShiftName,
				"shift_start": detail.ShiftStart.Format(time.RFC3339),
			},
		})
	}
	updated := *detail
	updated.Attendance = attendance
	syncCalendar(ctx, logger, calendar, updated)

	return nil
}

// checkTransitionPermission gates self-service transitions. Management
// permission bypasses every window.
func checkTransitionPermission(ctx context.Context, store db.Store, settings Settings, actor Actor, detail *db.AttendanceDetail, newState db.AttendanceState, now time.Time) error {
	if actor.CanManageShifts {
		return nil
	}
	if detail.Attendance.UserID != actor.UserID {
		return permissionErrorf("only shift managers can update other members' attendances")
	}

	switch newState {
	case db.AttendanceCancelled:
		reasons, err := ReasonsCantSelfUnregister(ctx, store, settings, actor.UserID, detail, now)
		if err != nil {
			return err
		}
		if len(reasons) > 0 {
			return permissionErrorf("%s", reasons[0])
		}
		return nil
	case db.AttendanceLookingForStandIn:
		if daysUntil(detail.ShiftStart, now) < settings.SelfLookForStandInDays {
			return permissionErrorf("it is only possible to look for a stand-in at least %d days before the shift",
				settings.SelfLookForStandInDays)
		}
		return nil
	case db.AttendancePending:
		// Cancelling one's own stand-in search is always allowed.
		if detail.Attendance.State == db.AttendanceLookingForStandIn {
			return nil
		}
	}
	return permissionErrorf("this change requires shift management permission")
}

// ReasonsCantSelfUnregister lists why the member cannot unregister from the
// attendance themselves. An empty list means they can.
func ReasonsCantSelfUnregister(ctx context.Context, store db.Store, settings Settings, userID string, detail *db.AttendanceDetail, now time.Time) ([]string, error) {
	var reasons []string

	if calendarDaysUntil(detail.ShiftStart, now) < settings.SelfUnregisterDays {
		reasons = append(reasons, fmt.Sprintf(
			"it is only possible to unregister from a shift at least %d days before the shift",
			settings.SelfUnregisterDays))
	}

	if detail.SlotTemplateID != nil {
		attendanceTemplate, err := store.GetAttendanceTemplateForSlotTemplate(ctx, *detail.SlotTemplateID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch attendance template: %w", err)
		}
		if attendanceTemplate != nil && attendanceTemplate.UserID == userID {
			reasons = append(reasons,
				"it is not possible to unregister from a shift that comes from your ABCD registration")
		}
	}

	return reasons, nil
}

func daysUntil(shiftStart, now time.Time) int {
	return int(shiftStart.Sub(now).Hours() / 24)
}

// calendarDaysUntil counts whole calendar days, ignoring the time of day on
// both ends. The unregister window works on dates, not durations.
func calendarDaysUntil(shiftStart, now time.Time) int {
	return int(interval.TruncateToDay(shiftStart).Sub(interval.TruncateToDay(now)).Hours() / 24)
}

// rewriteAccountEntry replaces the ledger entry linked to the attendance
// with the one matching its current state: +1 for a completed shift, -1 for
// a missed one, none otherwise.
func rewriteAccountEntry(ctx context.Context, tx db.Store, attendance *db.ShiftAttendance, detail *db.AttendanceDetail, description string, now time.Time) error {
	if attendance.AccountEntryID != nil {
		previousID := *attendance.AccountEntryID
		attendance.AccountEntryID = nil
		if err := tx.UpdateAttendance(ctx, attendance); err != nil {
			return fmt.Errorf("failed to unlink account entry: %w", err)
		}
		if err := tx.DeleteAccountEntry(ctx, previousID); err != nil {
			return fmt.Errorf("failed to delete previous account entry: %w", err)
		}
	}

	var value int
	switch attendance.State {
	case db.AttendanceDone:
		value = 1
	case db.AttendanceMissed:
		value = -1
	default:
		return nil
	}

	message := fmt.Sprintf("Shift %s: %s %s", attendance.State, detail.ShiftName,
		detail.ShiftStart.Format("2006-01-02"))
	if description != "" {
		message = message + " - " + description
	}
	entry := &db.ShiftAccountEntry{
		ID:          newID(),
		UserID:      attendance.UserID,
		Value:       value,
		Date:        now,
		Description: message,
	}
	if err := tx.InsertAccountEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert account entry: %w", err)
	}
	attendance.AccountEntryID = &entry.ID
	if err := tx.UpdateAttendance(ctx, attendance); err != nil {
		return fmt.Errorf("failed to link account entry: %w", err)
	}
	return nil
}

func logEntry(entryType db.LogEntryType, actor Actor, userID, message string) *db.LogEntry {
	entry := &db.LogEntry{
		ID:      newID(),
		Type:    entryType,
		UserID:  userID,
		Message: message,
	}
	if actor.UserID != "" {
		actorID := actor.UserID
		entry.ActorID = &actorID
	}
	return entry
}
