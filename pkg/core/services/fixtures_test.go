package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/db"
)

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.CycleStartDates = []time.Time{date(2026, 1, 5)}
	settings.SolidarityShiftsEnabled = true
	return settings
}

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string {
	return &s
}

func weekdayPtr(d time.Weekday) *time.Weekday {
	return &d
}

func seedMember(store *memoryStore, userID string, mode db.AttendanceMode, capabilities ...string) {
	store.userData[userID] = db.ShiftUserData{
		UserID:         userID,
		AttendanceMode: mode,
		Capabilities:   capabilities,
		Email:          userID + "@example.coop",
		DisplayName:    userID,
	}
}

func seedShiftWithSlot(store *memoryStore, shiftID, slotID string, start time.Time, capabilities ...string) {
	store.shifts[shiftID] = db.Shift{
		ID:        shiftID,
		Name:      "Shift " + shiftID,
		StartTime: start,
		EndTime:   start.Add(3 * time.Hour),
		Lifecycle: db.ShiftActive,
	}
	store.slots[slotID] = db.ShiftSlot{
		ID:                   slotID,
		ShiftID:              shiftID,
		Name:                 "Slot " + slotID,
		RequiredCapabilities: capabilities,
	}
}

func seedAttendance(store *memoryStore, attendanceID, userID, slotID string, state db.AttendanceState) {
	store.attendances[attendanceID] = db.ShiftAttendance{
		ID:     attendanceID,
		UserID: userID,
		SlotID: slotID,
		State:  state,
	}
}

func seedAccountEntry(store *memoryStore, entryID, userID string, value int, at time.Time) {
	store.accountEntries[entryID] = db.ShiftAccountEntry{
		ID:     entryID,
		UserID: userID,
		Value:  value,
		Date:   at,
	}
}
