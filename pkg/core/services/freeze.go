package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// FreezeCheckResult summarises one run over the whole membership.
type FreezeCheckResult struct {
	Frozen   int
	Unfrozen int
	Warned   int
}

// RunFreezeChecks walks every member and applies the freeze policy: freeze
// members whose balance has been below the threshold for too long and who are
// not catching up, unfreeze frozen members who recovered, and warn members
// drifting towards a freeze. Each member is handled in its own transaction so
// one failure does not block the rest of the run.
func RunFreezeChecks(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, settings Settings, now time.Time) (*FreezeCheckResult, error) {
	members, err := store.GetAllShiftUserData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}

	result := &FreezeCheckResult{}
	for i := range members {
		member := &members[i]
		if err := checkMember(ctx, store, logger, notifier, settings, member, now, result); err != nil {
			logger.Error("Freeze check failed for member",
				zap.String("user_id", member.UserID),
				zap.Error(err))
		}
	}

	logger.Info("Freeze checks finished",
		zap.Int("members_checked", len(members)),
		zap.Int("frozen", result.Frozen),
		zap.Int("unfrozen", result.Unfrozen),
		zap.Int("warned", result.Warned))
	return result, nil
}

func checkMember(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, settings Settings, member *db.ShiftUserData, now time.Time, result *FreezeCheckResult) error {
	if shouldFreeze, err := ShouldFreezeMember(ctx, store, settings, member, now); err != nil {
		return err
	} else if shouldFreeze {
		if err := FreezeMember(ctx, store, logger, notifier, Actor{}, member.UserID, now); err != nil {
			return err
		}
		result.Frozen++
		return nil
	}

	if shouldUnfreeze, err := ShouldUnfreezeMember(ctx, store, settings, member, now); err != nil {
		return err
	} else if shouldUnfreeze {
		if err := UnfreezeMember(ctx, store, logger, notifier, Actor{}, member.UserID, now); err != nil {
			return err
		}
		result.Unfrozen++
		return nil
	}

	if shouldWarn, err := shouldSendFreezeWarning(ctx, store, settings, member, now); err != nil {
		return err
	} else if shouldWarn {
		notify(ctx, store, logger, notifier, Notification{
			Kind:        NotificationFreezeWarning,
			RecipientID: member.UserID,
			Context:     map[string]string{"threshold": fmt.Sprintf("%d", settings.FreezeThreshold)},
		})
		result.Warned++
	}
	return nil
}

// ShouldFreezeMember reports whether the member qualifies for a freeze: they
// are expected to work, their balance has been below the threshold for longer
// than the grace period, and their upcoming registrations are not enough to
// climb back above it.
func ShouldFreezeMember(ctx context.Context, store db.Store, settings Settings, member *db.ShiftUserData, now time.Time) (bool, error) {
	if member.AttendanceMode == db.ModeFrozen {
		return false, nil
	}
	expected, err := isExpectedToWork(ctx, store, member, now)
	if err != nil {
		return false, err
	}
	if !expected {
		return false, nil
	}

	longEnough, err := belowThresholdSince(ctx, store, settings, member.UserID, now)
	if err != nil {
		return false, err
	}
	if !longEnough {
		return false, nil
	}

	compensating, err := isCompensatingWithUpcomingShifts(ctx, store, settings, member.UserID, now)
	if err != nil {
		return false, err
	}
	return !compensating, nil
}

// ShouldUnfreezeMember reports whether a frozen member has either recovered
// above the threshold or registered to enough upcoming shifts to get there.
func ShouldUnfreezeMember(ctx context.Context, store db.Store, settings Settings, member *db.ShiftUserData, now time.Time) (bool, error) {
	if member.AttendanceMode != db.ModeFrozen {
		return false, nil
	}
	balance, err := store.GetAccountBalance(ctx, member.UserID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to fetch account balance: %w", err)
	}
	if balance > settings.FreezeThreshold {
		return true, nil
	}
	return isCompensatingWithUpcomingShifts(ctx, store, settings, member.UserID, now)
}

// belowThresholdSince walks the ledger backwards from the current balance and
// reports whether the member has been below the freeze threshold for longer
// than the grace period.
func belowThresholdSince(ctx context.Context, store db.Store, settings Settings, userID string, now time.Time) (bool, error) {
	balance, err := store.GetAccountBalance(ctx, userID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to fetch account balance: %w", err)
	}
	if balance > settings.FreezeThreshold {
		return false, nil
	}

	entries, err := store.GetAccountEntriesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch account entries: %w", err)
	}

	cutoff := now.AddDate(0, 0, -settings.FreezeAfterDays)
	running := balance
	for _, entry := range entries {
		if entry.Date.Before(cutoff) {
			break
		}
		// Undoing this entry gives the balance just before it.
		running -= entry.Value
		if running > settings.FreezeThreshold {
			// The member dipped below the threshold within the grace
			// period.
			return false, nil
		}
	}
	return true, nil
}

// isCompensatingWithUpcomingShifts reports whether the member's upcoming
// registrations within the make-up window would bring the balance back above
// the threshold if all of them were completed.
func isCompensatingWithUpcomingShifts(ctx context.Context, store db.Store, settings Settings, userID string, now time.Time) (bool, error) {
	balance, err := store.GetAccountBalance(ctx, userID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to fetch account balance: %w", err)
	}
	upcoming, err := store.GetExpectedAttendancesForUser(ctx, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to fetch upcoming attendances: %w", err)
	}

	horizon := now.AddDate(0, 0, 7*settings.MakeUpWeeks)
	count := 0
	for _, detail := range upcoming {
		if detail.ShiftCancelled || detail.ShiftStart.After(horizon) {
			continue
		}
		count++
	}
	return balance+count > settings.FreezeThreshold, nil
}

// shouldSendFreezeWarning reports whether the member is below the threshold,
// not yet freezable, and has not been warned recently.
func shouldSendFreezeWarning(ctx context.Context, store db.Store, settings Settings, member *db.ShiftUserData, now time.Time) (bool, error) {
	if member.AttendanceMode == db.ModeFrozen {
		return false, nil
	}
	expected, err := isExpectedToWork(ctx, store, member, now)
	if err != nil {
		return false, err
	}
	if !expected {
		return false, nil
	}

	balance, err := store.GetAccountBalance(ctx, member.UserID, nil)
	if err != nil {
		return false, fmt.Errorf("failed to fetch account balance: %w", err)
	}
	if balance > settings.FreezeThreshold {
		return false, nil
	}

	lastWarning, err := store.GetLastNotificationSent(ctx, member.UserID, string(NotificationFreezeWarning))
	if err != nil {
		return false, fmt.Errorf("failed to fetch last freeze warning: %w", err)
	}
	if lastWarning != nil && now.Sub(lastWarning.CreatedAt) < time.Duration(settings.FreezeAfterDays)*24*time.Hour {
		return false, nil
	}
	return true, nil
}

// isExpectedToWork reports whether shifts are currently demanded from the
// member: they can shop, are not exempted or paused, and have not delegated
// their shifts to a shift partner.
func isExpectedToWork(ctx context.Context, store db.Store, member *db.ShiftUserData, now time.Time) (bool, error) {
	if !member.CanShop() {
		return false, nil
	}
	if member.ShiftPartnerID != nil {
		return false, nil
	}
	exempted, err := isExemptedAt(ctx, store, member.UserID, now)
	if err != nil {
		return false, err
	}
	return !exempted, nil
}

// FreezeMember sets the member's attendance mode to frozen, cancels their
// expected attendances, removes their recurring registrations, and notifies
// them once the transaction committed. Freezing an already frozen member is
// a no-op.
func FreezeMember(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, actor Actor, userID string, now time.Time) error {
	member, err := store.GetShiftUserData(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch shift user data: %w", err)
	}
	if member == nil {
		return validationErrorf("user_id", "unknown member %s", userID)
	}
	if member.AttendanceMode == db.ModeFrozen {
		return nil
	}

	templates, err := store.GetAttendanceTemplatesForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch attendance templates: %w", err)
	}

	previousMode := member.AttendanceMode
	err = store.Transact(ctx, func(tx db.Store) error {
		member.AttendanceMode = db.ModeFrozen
		if err := tx.UpdateShiftUserData(ctx, member); err != nil {
			return fmt.Errorf("failed to update shift user data: %w", err)
		}
		entry := logEntry(db.LogUpdateShiftUserData, actor, userID, "Shift attendance mode set to frozen")
		entry.Before = string(previousMode)
		entry.After = string(db.ModeFrozen)
		if err := tx.InsertLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to log mode update: %w", err)
		}

		if err := cancelExpectedAttendances(ctx, tx, actor, userID, "Shift attendance mode set to frozen", now); err != nil {
			return err
		}

		for i := range templates {
			if err := tx.DeleteAttendanceTemplate(ctx, templates[i].ID); err != nil {
				return fmt.Errorf("failed to delete attendance template: %w", err)
			}
			if err := tx.InsertLogEntry(ctx, logEntry(db.LogDeleteAttendanceTemplate, actor, userID,
				"Unregistered from recurring slot because frozen")); err != nil {
				return fmt.Errorf("failed to log template deletion: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Member frozen", zap.String("user_id", userID))
	notify(ctx, store, logger, notifier, Notification{
		Kind:        NotificationMemberFrozen,
		RecipientID: userID,
	})
	return nil
}

// UnfreezeMember restores a frozen member to regular attendance and notifies
// them. Unfreezing a member who is not frozen is a no-op.
func UnfreezeMember(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, actor Actor, userID string, now time.Time) error {
	member, err := store.GetShiftUserData(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch shift user data: %w", err)
	}
	if member == nil {
		return validationErrorf("user_id", "unknown member %s", userID)
	}
	if member.AttendanceMode != db.ModeFrozen {
		return nil
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		member.AttendanceMode = db.ModeRegular
		if err := tx.UpdateShiftUserData(ctx, member); err != nil {
			return fmt.Errorf("failed to update shift user data: %w", err)
		}
		entry := logEntry(db.LogUpdateShiftUserData, actor, userID, "Shift attendance mode restored to regular")
		entry.Before = string(db.ModeFrozen)
		entry.After = string(db.ModeRegular)
		if err := tx.InsertLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to log mode update: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("Member unfrozen", zap.String("user_id", userID))
	notify(ctx, store, logger, notifier, Notification{
		Kind:        NotificationUnfrozen,
		RecipientID: userID,
	})
	return nil
}

// cancelExpectedAttendances cancels every future attendance where the member
// is still expected to show up, logging each cancellation. Must run inside a
// transaction.
func cancelExpectedAttendances(ctx context.Context, tx db.Store, actor Actor, userID, reason string, now time.Time) error {
	upcoming, err := tx.GetExpectedAttendancesForUser(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("failed to fetch upcoming attendances: %w", err)
	}
	for i := range upcoming {
		attendance := upcoming[i].Attendance
		oldState := attendance.State
		attendance.State = db.AttendanceCancelled
		attendance.ExcusedReason = reason
		attendance.LastStateUpdate = now
		if err := tx.UpdateAttendance(ctx, &attendance); err != nil {
			return fmt.Errorf("failed to cancel attendance: %w", err)
		}
		entry := logEntry(db.LogUpdateAttendanceState, actor, userID,
			fmt.Sprintf("Shift %s: %s", upcoming[i].ShiftName, reason))
		entry.Before = string(oldState)
		entry.After = string(db.AttendanceCancelled)
		if err := tx.InsertLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to log attendance cancellation: %w", err)
		}
	}
	return nil
}
