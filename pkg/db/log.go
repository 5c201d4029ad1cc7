package db

import "time"

// LogEntryType identifies what kind of mutation an audit log entry records.
type LogEntryType string

const (
	LogCreateAttendance         LogEntryType = "create_attendance"
	LogUpdateAttendanceState    LogEntryType = "update_attendance_state"
	LogAttendanceTakenOver      LogEntryType = "attendance_taken_over"
	LogCreateAttendanceTemplate LogEntryType = "create_attendance_template"
	LogDeleteAttendanceTemplate LogEntryType = "delete_attendance_template"
	LogCreateExemption          LogEntryType = "create_exemption"
	LogUpdateExemption          LogEntryType = "update_exemption"
	LogCreateMembershipPause    LogEntryType = "create_membership_pause"
	LogUpdateShiftUserData      LogEntryType = "update_shift_user_data"
	LogSolidarityGiven          LogEntryType = "solidarity_given"
	LogSolidarityUsed           LogEntryType = "solidarity_used"
	LogNotificationSent         LogEntryType = "notification_sent"
)

// LogEntry is one append-only audit record about a member. ActorID is nil for
// entries written by scheduled jobs.
type LogEntry struct {
	ID        string
	Type      LogEntryType
	ActorID   *string
	UserID    string
	Message   string
	Before    string
	After     string
	CreatedAt time.Time
}
