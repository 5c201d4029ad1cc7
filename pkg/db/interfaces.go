package db

import (
	"context"
	"time"
)

// TemplateStore defines the operations on shift templates and recurring
// registrations.
type TemplateStore interface {
	GetTemplateGroups(ctx context.Context) ([]ShiftTemplateGroup, error)
	GetShiftTemplates(ctx context.Context) ([]ShiftTemplate, error)
	GetShiftTemplate(ctx context.Context, id string) (*ShiftTemplate, error)
	GetSlotTemplates(ctx context.Context, shiftTemplateID string) ([]ShiftSlotTemplate, error)
	// GetAttendanceTemplateForSlotTemplate returns nil if the slot template
	// has no recurring registration.
	GetAttendanceTemplateForSlotTemplate(ctx context.Context, slotTemplateID string) (*ShiftAttendanceTemplate, error)
	GetAttendanceTemplate(ctx context.Context, id string) (*ShiftAttendanceTemplate, error)
	GetAttendanceTemplatesForUser(ctx context.Context, userID string) ([]ShiftAttendanceTemplate, error)
	InsertAttendanceTemplate(ctx context.Context, template *ShiftAttendanceTemplate) error
	DeleteAttendanceTemplate(ctx context.Context, id string) error
}

// ShiftStore defines the operations on concrete shifts and their slots.
// All queries exclude shifts whose lifecycle is deleted.
type ShiftStore interface {
	GetShift(ctx context.Context, id string) (*Shift, error)
	// GetShiftByTemplateAndStart returns nil if no shift has been generated
	// from the template at that start time. This is the generator's
	// idempotency check.
	GetShiftByTemplateAndStart(ctx context.Context, templateID string, start time.Time) (*Shift, error)
	GetFutureShiftsForTemplate(ctx context.Context, templateID string, after time.Time) ([]Shift, error)
	InsertShift(ctx context.Context, shift *Shift) error
	UpdateShift(ctx context.Context, shift *Shift) error
	GetSlot(ctx context.Context, id string) (*ShiftSlot, error)
	GetSlotsForShift(ctx context.Context, shiftID string) ([]ShiftSlot, error)
	// GetSlotsForSlotTemplate returns the generated slots of a slot template
	// whose shift starts after the given time.
	GetSlotsForSlotTemplate(ctx context.Context, slotTemplateID string, after time.Time) ([]ShiftSlot, error)
	InsertSlot(ctx context.Context, slot *ShiftSlot) error
	UpdateSlot(ctx context.Context, slot *ShiftSlot) error
}

// AttendanceStore defines the operations on shift attendances.
type AttendanceStore interface {
	GetAttendance(ctx context.Context, id string) (*ShiftAttendance, error)
	GetAttendanceDetail(ctx context.Context, id string) (*AttendanceDetail, error)
	GetAttendancesForSlot(ctx context.Context, slotID string) ([]ShiftAttendance, error)
	GetAttendancesForShiftAndUser(ctx context.Context, shiftID, userID string) ([]ShiftAttendance, error)
	// GetExpectedAttendancesForUser returns the attendances in a state where
	// the member is still expected to show up, for shifts starting at or
	// after from, joined with their shift.
	GetExpectedAttendancesForUser(ctx context.Context, userID string, from time.Time) ([]AttendanceDetail, error)
	// GetDoneNonSolidarityAttendanceForUser returns nil if the member has no
	// DONE attendance left to give away.
	GetDoneNonSolidarityAttendanceForUser(ctx context.Context, userID string) (*ShiftAttendance, error)
	InsertAttendance(ctx context.Context, attendance *ShiftAttendance) error
	UpdateAttendance(ctx context.Context, attendance *ShiftAttendance) error
}

// AccountStore defines the operations on the shift point ledger.
type AccountStore interface {
	InsertAccountEntry(ctx context.Context, entry *ShiftAccountEntry) error
	DeleteAccountEntry(ctx context.Context, id string) error
	// GetAccountEntriesForUser returns entries ordered by date, most recent
	// first.
	GetAccountEntriesForUser(ctx context.Context, userID string) ([]ShiftAccountEntry, error)
	// GetAccountBalance sums the member's entries with date <= at. A nil at
	// means the current balance.
	GetAccountBalance(ctx context.Context, userID string, at *time.Time) (int, error)
}

// UserDataStore defines the operations on per-member shift metadata.
type UserDataStore interface {
	GetShiftUserData(ctx context.Context, userID string) (*ShiftUserData, error)
	GetAllShiftUserData(ctx context.Context) ([]ShiftUserData, error)
	UpdateShiftUserData(ctx context.Context, data *ShiftUserData) error
	// GetShiftPartnerOf resolves the inverse of the shift partner relation,
	// returning nil if nobody points at the member.
	GetShiftPartnerOf(ctx context.Context, userID string) (*ShiftUserData, error)
}

// ExemptionStore defines the operations on exemptions and membership pauses.
type ExemptionStore interface {
	GetExemption(ctx context.Context, id string) (*ShiftExemption, error)
	GetExemptionsForUser(ctx context.Context, userID string) ([]ShiftExemption, error)
	InsertExemption(ctx context.Context, exemption *ShiftExemption) error
	UpdateExemption(ctx context.Context, exemption *ShiftExemption) error
	DeleteExemption(ctx context.Context, id string) error
	GetMembershipPausesForUser(ctx context.Context, userID string) ([]MembershipPause, error)
	InsertMembershipPause(ctx context.Context, pause *MembershipPause) error
}

// SolidarityStore defines the operations on solidarity shift credits.
type SolidarityStore interface {
	InsertSolidarityShift(ctx context.Context, shift *SolidarityShift) error
	UpdateSolidarityShift(ctx context.Context, shift *SolidarityShift) error
	// GetOldestAvailableSolidarityShift returns nil if no credit is left.
	GetOldestAvailableSolidarityShift(ctx context.Context) (*SolidarityShift, error)
	CountSolidarityShiftsUsedInYear(ctx context.Context, userID string, year int) (int, error)
}

// CycleStore defines the operations on shift cycle bookkeeping.
type CycleStore interface {
	HasCycleEntry(ctx context.Context, userID string, cycleStart time.Time) (bool, error)
	InsertCycleEntry(ctx context.Context, entry *ShiftCycleEntry) error
}

// LogStore is the audit log sink.
type LogStore interface {
	InsertLogEntry(ctx context.Context, entry *LogEntry) error
	// GetLastNotificationSent returns the most recent notification_sent
	// entry of the given kind for the member, or nil if none was ever sent.
	GetLastNotificationSent(ctx context.Context, userID, kind string) (*LogEntry, error)
}

// Store combines all store interfaces. Transact runs fn against a
// transaction-scoped store; every mutation inside fn commits or rolls back
// as one unit.
type Store interface {
	TemplateStore
	ShiftStore
	AttendanceStore
	AccountStore
	UserDataStore
	ExemptionStore
	SolidarityStore
	CycleStore
	LogStore

	Transact(ctx context.Context, fn func(Store) error) error
}
