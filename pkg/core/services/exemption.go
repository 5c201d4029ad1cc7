package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/core/interval"
	"github.com/rizoma-coop/tapir/pkg/db"
)

// ExemptionInput carries a request to exempt a member from shift work over a
// date range. An open-ended exemption leaves EndDate nil.
type ExemptionInput struct {
	UserID      string `validate:"required"`
	Description string `validate:"required"`
	StartDate   time.Time
	EndDate     *time.Time
	// ConfirmCancellations acknowledges that attendances covered by the
	// range will be cancelled.
	ConfirmCancellations bool
	// ConfirmTemplateDeletion acknowledges that the member's recurring
	// registrations will be removed when the exemption is long enough.
	ConfirmTemplateDeletion bool
}

var exemptionValidator = validator.New()

// ExemptionImpact describes the cascade an exemption would cause.
type ExemptionImpact struct {
	CoveredAttendances []db.AttendanceDetail
	// MustUnregister is set when the exemption is open-ended or spans at
	// least the configured number of cycles, forcing recurring
	// registrations to be removed.
	MustUnregister      bool
	AttendanceTemplates []db.ShiftAttendanceTemplate
}

// CreateExemption exempts a member from shift work. Attendances covered by
// the range are cancelled and, when the exemption is long enough, recurring
// registrations are removed. Both cascades need an explicit confirmation
// flag so callers cannot trigger them by accident.
func CreateExemption(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, settings Settings, input ExemptionInput, now time.Time) (*db.ShiftExemption, error) {
	if !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can create exemptions")
	}
	if err := exemptionValidator.Struct(input); err != nil {
		return nil, validationErrorf("input", "invalid exemption: %v", err)
	}
	if input.EndDate != nil && input.EndDate.Before(input.StartDate) {
		return nil, validationErrorf("end_date", "end date is before start date")
	}

	member, err := store.GetShiftUserData(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shift user data: %w", err)
	}
	if member == nil {
		return nil, validationErrorf("user_id", "unknown member %s", input.UserID)
	}

	newRange := interval.DateRange{Start: input.StartDate, End: input.EndDate}
	existing, err := store.GetExemptionsForUser(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exemptions: %w", err)
	}
	for _, other := range existing {
		otherRange := interval.DateRange{Start: other.StartDate, End: other.EndDate}
		if newRange.Overlaps(otherRange) {
			return nil, validationErrorf("start_date", "the member is already exempted over this range")
		}
	}

	impact, err := ExemptionCascade(ctx, store, settings, input.UserID, newRange, now)
	if err != nil {
		return nil, err
	}
	if len(impact.CoveredAttendances) > 0 && !input.ConfirmCancellations {
		return nil, validationErrorf("confirm_cancellations",
			"the exemption covers %d attendances, confirm their cancellation", len(impact.CoveredAttendances))
	}
	if impact.MustUnregister && len(impact.AttendanceTemplates) > 0 && !input.ConfirmTemplateDeletion {
		return nil, validationErrorf("confirm_template_deletion",
			"the exemption is long enough to remove recurring registrations, confirm their deletion")
	}

	exemption := &db.ShiftExemption{
		ID:          newID(),
		UserID:      input.UserID,
		Description: input.Description,
		StartDate:   interval.TruncateToDay(input.StartDate),
		EndDate:     input.EndDate,
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		if err := tx.InsertExemption(ctx, exemption); err != nil {
			return fmt.Errorf("failed to insert exemption: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogCreateExemption, actor, input.UserID,
			fmt.Sprintf("Exempted from shifts: %s", input.Description))); err != nil {
			return fmt.Errorf("failed to log exemption: %w", err)
		}
		if err := applyExemptionCascade(ctx, tx, actor, impact, input.Description, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Exemption created",
		zap.String("user_id", input.UserID),
		zap.Time("start_date", exemption.StartDate),
		zap.Int("cancelled_attendances", len(impact.CoveredAttendances)),
		zap.Int("deleted_templates", len(impact.AttendanceTemplates)))
	return exemption, nil
}

// ExemptionCascade computes what an exemption over the range would affect,
// without mutating anything.
func ExemptionCascade(ctx context.Context, store db.Store, settings Settings, userID string, dateRange interval.DateRange, now time.Time) (*ExemptionImpact, error) {
	impact := &ExemptionImpact{}

	upcoming, err := store.GetExpectedAttendancesForUser(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch upcoming attendances: %w", err)
	}
	for _, detail := range upcoming {
		if dateRange.ActiveAt(detail.ShiftStart) {
			impact.CoveredAttendances = append(impact.CoveredAttendances, detail)
		}
	}

	days := dateRange.Days()
	impact.MustUnregister = days < 0 || days >= settings.ExemptionUnregisterCycles*settings.CycleDays
	if impact.MustUnregister {
		templates, err := store.GetAttendanceTemplatesForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch attendance templates: %w", err)
		}
		impact.AttendanceTemplates = templates
	}
	return impact, nil
}

// applyExemptionCascade cancels the covered attendances and deletes the
// recurring registrations the impact names. Must run inside a transaction.
func applyExemptionCascade(ctx context.Context, tx db.Store, actor Actor, impact *ExemptionImpact, reason string, now time.Time) error {
	for i := range impact.CoveredAttendances {
		attendance := impact.CoveredAttendances[i].Attendance
		attendance.State = db.AttendanceCancelled
		attendance.ExcusedReason = "covered by shift exemption: " + reason
		attendance.LastStateUpdate = now
		if err := tx.UpdateAttendance(ctx, &attendance); err != nil {
			return fmt.Errorf("failed to cancel covered attendance: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogUpdateAttendanceState, actor, attendance.UserID,
			fmt.Sprintf("Shift %s cancelled by exemption", impact.CoveredAttendances[i].ShiftName))); err != nil {
			return fmt.Errorf("failed to log covered attendance cancellation: %w", err)
		}
	}

	for i := range impact.AttendanceTemplates {
		template := impact.AttendanceTemplates[i]
		if err := tx.DeleteAttendanceTemplate(ctx, template.ID); err != nil {
			return fmt.Errorf("failed to delete attendance template: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogDeleteAttendanceTemplate, actor, template.UserID,
			"Unregistered from recurring slot because of exemption")); err != nil {
			return fmt.Errorf("failed to log template deletion: %w", err)
		}
	}
	return nil
}

// UpdateExemption changes the dates or description of an existing exemption.
// Extending the range cancels newly covered attendances, subject to the same
// confirmation flag as creation.
func UpdateExemption(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, settings Settings, exemptionID string, input ExemptionInput, now time.Time) (*db.ShiftExemption, error) {
	if !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can update exemptions")
	}

	exemption, err := store.GetExemption(ctx, exemptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exemption: %w", err)
	}
	if exemption == nil {
		return nil, validationErrorf("exemption_id", "unknown exemption %s", exemptionID)
	}
	if input.EndDate != nil && input.EndDate.Before(input.StartDate) {
		return nil, validationErrorf("end_date", "end date is before start date")
	}

	newRange := interval.DateRange{Start: input.StartDate, End: input.EndDate}
	impact, err := ExemptionCascade(ctx, store, settings, exemption.UserID, newRange, now)
	if err != nil {
		return nil, err
	}
	if len(impact.CoveredAttendances) > 0 && !input.ConfirmCancellations {
		return nil, validationErrorf("confirm_cancellations",
			"the updated range covers %d attendances, confirm their cancellation", len(impact.CoveredAttendances))
	}
	if impact.MustUnregister && len(impact.AttendanceTemplates) > 0 && !input.ConfirmTemplateDeletion {
		return nil, validationErrorf("confirm_template_deletion",
			"the updated range is long enough to remove recurring registrations, confirm their deletion")
	}

	before := fmt.Sprintf("%s - %s", formatDate(exemption.StartDate), formatDatePtr(exemption.EndDate))
	exemption.StartDate = interval.TruncateToDay(input.StartDate)
	exemption.EndDate = input.EndDate
	if input.Description != "" {
		exemption.Description = input.Description
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		if err := tx.UpdateExemption(ctx, exemption); err != nil {
			return fmt.Errorf("failed to update exemption: %w", err)
		}
		entry := logEntry(db.LogUpdateExemption, actor, exemption.UserID, "Exemption dates updated")
		entry.Before = before
		entry.After = fmt.Sprintf("%s - %s", formatDate(exemption.StartDate), formatDatePtr(exemption.EndDate))
		if err := tx.InsertLogEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to log exemption update: %w", err)
		}
		if err := applyExemptionCascade(ctx, tx, actor, impact, exemption.Description, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Exemption updated", zap.String("exemption_id", exemptionID))
	return exemption, nil
}

// ConvertExemptionToPause replaces an exemption with a membership pause over
// the same range, atomically. Pauses carry the same shift relief but also
// suspend the membership itself.
func ConvertExemptionToPause(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, exemptionID string, now time.Time) (*db.MembershipPause, error) {
	if !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can convert exemptions")
	}

	exemption, err := store.GetExemption(ctx, exemptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exemption: %w", err)
	}
	if exemption == nil {
		return nil, validationErrorf("exemption_id", "unknown exemption %s", exemptionID)
	}

	pause := &db.MembershipPause{
		ID:          newID(),
		UserID:      exemption.UserID,
		Description: exemption.Description,
		StartDate:   exemption.StartDate,
		EndDate:     exemption.EndDate,
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		if err := tx.DeleteExemption(ctx, exemptionID); err != nil {
			return fmt.Errorf("failed to delete exemption: %w", err)
		}
		if err := tx.InsertMembershipPause(ctx, pause); err != nil {
			return fmt.Errorf("failed to insert membership pause: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogCreateMembershipPause, actor, exemption.UserID,
			"Exemption converted into a membership pause")); err != nil {
			return fmt.Errorf("failed to log pause creation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Exemption converted to membership pause",
		zap.String("exemption_id", exemptionID),
		zap.String("pause_id", pause.ID))
	return pause, nil
}

// CreateMembershipPause pauses a membership over a date range. The shift
// cascade matches a long exemption: covered attendances are cancelled and
// recurring registrations removed.
func CreateMembershipPause(ctx context.Context, store db.Store, logger *zap.Logger, actor Actor, settings Settings, input ExemptionInput, now time.Time) (*db.MembershipPause, error) {
	if !actor.CanManageShifts {
		return nil, permissionErrorf("only shift managers can create membership pauses")
	}
	if err := exemptionValidator.Struct(input); err != nil {
		return nil, validationErrorf("input", "invalid pause: %v", err)
	}
	if input.EndDate != nil && input.EndDate.Before(input.StartDate) {
		return nil, validationErrorf("end_date", "end date is before start date")
	}

	newRange := interval.DateRange{Start: input.StartDate, End: input.EndDate}
	impact, err := ExemptionCascade(ctx, store, settings, input.UserID, newRange, now)
	if err != nil {
		return nil, err
	}
	// A pause always removes recurring registrations, whatever its length.
	if !impact.MustUnregister {
		templates, err := store.GetAttendanceTemplatesForUser(ctx, input.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch attendance templates: %w", err)
		}
		impact.MustUnregister = true
		impact.AttendanceTemplates = templates
	}
	if len(impact.CoveredAttendances) > 0 && !input.ConfirmCancellations {
		return nil, validationErrorf("confirm_cancellations",
			"the pause covers %d attendances, confirm their cancellation", len(impact.CoveredAttendances))
	}
	if len(impact.AttendanceTemplates) > 0 && !input.ConfirmTemplateDeletion {
		return nil, validationErrorf("confirm_template_deletion",
			"the pause removes recurring registrations, confirm their deletion")
	}

	pause := &db.MembershipPause{
		ID:          newID(),
		UserID:      input.UserID,
		Description: input.Description,
		StartDate:   interval.TruncateToDay(input.StartDate),
		EndDate:     input.EndDate,
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		if err := tx.InsertMembershipPause(ctx, pause); err != nil {
			return fmt.Errorf("failed to insert membership pause: %w", err)
		}
		if err := tx.InsertLogEntry(ctx, logEntry(db.LogCreateMembershipPause, actor, input.UserID,
			fmt.Sprintf("Membership paused: %s", input.Description))); err != nil {
			return fmt.Errorf("failed to log pause creation: %w", err)
		}
		if err := applyExemptionCascade(ctx, tx, actor, impact, input.Description, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Membership pause created",
		zap.String("user_id", input.UserID),
		zap.Int("cancelled_attendances", len(impact.CoveredAttendances)),
		zap.Int("deleted_templates", len(impact.AttendanceTemplates)))
	return pause, nil
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return formatDate(*t)
}
