package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// NotificationKind is the closed set of notifications the shift engine sends.
type NotificationKind string

const (
	NotificationShiftMissed   NotificationKind = "shift_missed"
	NotificationStandInFound  NotificationKind = "stand_in_found"
	NotificationFreezeWarning NotificationKind = "freeze_warning"
	NotificationMemberFrozen  NotificationKind = "member_frozen"
	NotificationUnfrozen      NotificationKind = "unfrozen"
	NotificationShiftReminder NotificationKind = "shift_reminder"
)

// Notification is a message for one member. Context carries kind-specific
// values (shift name, dates, balance) for the delivery template.
type Notification struct {
	Kind        NotificationKind
	RecipientID string
	Context     map[string]string
}

// Notifier delivers notifications to members. Delivery is best-effort: the
// engine never depends on it succeeding.
type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// CalendarSync is told about attendance validity changes so an external
// calendar can mirror them. Best-effort, like Notifier.
type CalendarSync interface {
	OnAttendanceChanged(ctx context.Context, detail db.AttendanceDetail) error
}

// Actor identifies who triggers a state-changing operation. Scheduled jobs
// run without an actor.
type Actor struct {
	UserID          string
	CanManageShifts bool
}

// notify sends a notification after the core mutation has committed and
// records it in the audit log. Failures are logged, never propagated: a
// broken mail setup must not undo a committed ledger change.
func notify(ctx context.Context, store db.Store, logger *zap.Logger, notifier Notifier, notification Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Send(ctx, notification); err != nil {
		logger.Error("Failed to send notification",
			zap.String("kind", string(notification.Kind)),
			zap.String("recipient", notification.RecipientID),
			zap.Error(err))
		return
	}
	entry := &db.LogEntry{
		ID:      newID(),
		Type:    db.LogNotificationSent,
		UserID:  notification.RecipientID,
		Message: string(notification.Kind),
	}
	if err := store.InsertLogEntry(ctx, entry); err != nil {
		logger.Error("Failed to record sent notification",
			zap.String("kind", string(notification.Kind)),
			zap.Error(err))
	}
}

// syncCalendar forwards an attendance change to the external calendar, if
// one is configured. Best-effort.
func syncCalendar(ctx context.Context, logger *zap.Logger, calendar CalendarSync, detail db.AttendanceDetail) {
	if calendar == nil {
		return
	}
	if err := calendar.OnAttendanceChanged(ctx, detail); err != nil {
		logger.Error("Failed to sync attendance to external calendar",
			zap.String("attendance_id", detail.Attendance.ID),
			zap.Error(err))
	}
}
