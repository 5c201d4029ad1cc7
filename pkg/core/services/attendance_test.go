package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizoma-coop/tapir/pkg/db"
)

func TestRegisterToSlotSelfRegistration(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10))

	notifier := &recordingNotifier{}
	attendance, err := RegisterToSlot(context.Background(), store, testLogger(), notifier, nil,
		Actor{UserID: "ada"}, "slot-1", "", now)

	require.NoError(t, err)
	assert.Equal(t, db.AttendancePending, attendance.State)
	assert.Equal(t, "ada", attendance.UserID)
	assert.Len(t, store.logEntriesOfType(db.LogCreateAttendance), 1)
	assert.Empty(t, notifier.sent)
}

func TestRegisterToSlotRejectsTakenSlot(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedMember(store, "grace", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10))
	seedAttendance(store, "att-1", "grace", "slot-1", db.AttendancePending)

	_, err := RegisterToSlot(context.Background(), store, testLogger(), nil, nil,
		Actor{UserID: "ada"}, "slot-1", "", now)

	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterToSlotTakesOverStandInSearch(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedMember(store, "grace", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10))
	seedAttendance(store, "att-1", "grace", "slot-1", db.AttendanceLookingForStandIn)

	notifier := &recordingNotifier{}
	attendance, err := RegisterToSlot(context.Background(), store, testLogger(), notifier, nil,
		Actor{UserID: "ada"}, "slot-1", "", now)

	require.NoError(t, err)
	assert.Equal(t, db.AttendancePending, attendance.State)

	old := store.attendances["att-1"]
	assert.Equal(t, db.AttendanceCancelled, old.State)
	assert.Len(t, store.logEntriesOfType(db.LogAttendanceTakenOver), 1)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, NotificationStandInFound, notifier.sent[0].Kind)
	assert.Equal(t, "grace", notifier.sent[0].RecipientID)

	// The slot never holds two valid attendances, even mid-takeover.
	valid := 0
	for _, a := range store.attendances {
		if a.SlotID == "slot-1" && db.StateIn(a.State, db.ValidAttendanceStates) {
			valid++
		}
	}
	assert.Equal(t, 1, valid)
}

func TestRegisterToSlotChecksCapabilities(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10), db.CapabilityCashier)

	_, err := RegisterToSlot(context.Background(), store, testLogger(), nil, nil,
		Actor{UserID: "ada"}, "slot-1", "", now)

	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterToSlotForOtherMemberNeedsManager(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedMember(store, "grace", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10))

	_, err := RegisterToSlot(context.Background(), store, testLogger(), nil, nil,
		Actor{UserID: "ada"}, "slot-1", "grace", now)
	assert.ErrorIs(t, err, ErrPermission)

	_, err = RegisterToSlot(context.Background(), store, testLogger(), nil, nil,
		Actor{UserID: "ada", CanManageShifts: true}, "slot-1", "grace", now)
	assert.NoError(t, err)
}

func TestRegisterToSlotRejectsStartedShift(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.Add(-time.Hour))

	_, err := RegisterToSlot(context.Background(), store, testLogger(), nil, nil,
		Actor{UserID: "ada"}, "slot-1", "", now)

	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetAttendanceStateDoneCreatesCredit(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, -1))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "boss", CanManageShifts: true}, "att-1", db.AttendanceDone, "", now)
	require.NoError(t, err)

	attendance := store.attendances["att-1"]
	assert.Equal(t, db.AttendanceDone, attendance.State)
	require.NotNil(t, attendance.AccountEntryID)

	balance, err := store.GetAccountBalance(context.Background(), "ada", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, balance)
}

func TestSetAttendanceStateMissedDebitsAndNotifies(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, -1))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

	notifier := &recordingNotifier{}
	err := SetAttendanceState(context.Background(), store, testLogger(), notifier, nil, testSettings(),
		Actor{UserID: "boss", CanManageShifts: true}, "att-1", db.AttendanceMissed, "", now)
	require.NoError(t, err)

	balance, err := store.GetAccountBalance(context.Background(), "ada", nil)
	require.NoError(t, err)
	assert.Equal(t, -1, balance)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, NotificationShiftMissed, notifier.sent[0].Kind)
}

func TestSetAttendanceStateExcusedCreatesNoEntry(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, -1))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "boss", CanManageShifts: true}, "att-1", db.AttendanceMissedExcused, "was sick", now)
	require.NoError(t, err)

	attendance := store.attendances["att-1"]
	assert.Equal(t, "was sick", attendance.ExcusedReason)
	assert.Nil(t, attendance.AccountEntryID)
	assert.Empty(t, store.accountEntries)
}

func TestSetAttendanceStateRejectsIllegalTransition(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, -1))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendanceMissed)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "boss", CanManageShifts: true}, "att-1", db.AttendanceDone, "", now)

	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetAttendanceStateAuditsTransition(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, -1))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "boss", CanManageShifts: true}, "att-1", db.AttendanceDone, "", now)
	require.NoError(t, err)

	entries := store.logEntriesOfType(db.LogUpdateAttendanceState)
	require.Len(t, entries, 1)
	assert.Equal(t, string(db.AttendancePending), entries[0].Before)
	assert.Equal(t, string(db.AttendanceDone), entries[0].After)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, "boss", *entries[0].ActorID)
}

func TestSelfUnregisterWindow(t *testing.T) {
	tests := []struct {
		name      string
		daysAhead int
		offset    time.Duration
		wantErr   error
	}{
		{name: "far enough ahead", daysAhead: 10, wantErr: nil},
		{name: "too close to the shift", daysAhead: 3, wantErr: ErrPermission},
		// The window counts calendar days: a shift seven dates away still
		// qualifies even when the clock time makes it less than 7*24h.
		{name: "seven calendar days but an earlier hour", daysAhead: 7, offset: -time.Hour, wantErr: nil},
		{name: "six calendar days at a later hour", daysAhead: 6, offset: 2 * time.Hour, wantErr: ErrPermission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			now := store.now
			seedMember(store, "ada", db.ModeFlying)
			seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, tt.daysAhead).Add(tt.offset))
			seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

			err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
				Actor{UserID: "ada"}, "att-1", db.AttendanceCancelled, "", now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSelfUnregisterRejectedForTemplateAttendance(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10))

	slot := store.slots["slot-1"]
	slot.SlotTemplateID = strPtr("slot-template-1")
	store.slots["slot-1"] = slot
	store.attendanceTemplates["att-template-1"] = db.ShiftAttendanceTemplate{
		ID:             "att-template-1",
		UserID:         "ada",
		SlotTemplateID: "slot-template-1",
	}
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "ada"}, "att-1", db.AttendanceCancelled, "", now)
	assert.ErrorIs(t, err, ErrPermission)

	// A manager can still unregister them.
	err = SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "boss", CanManageShifts: true}, "att-1", db.AttendanceCancelled, "", now)
	assert.NoError(t, err)
}

func TestSelfLookForStandInWindow(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 3))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)
	seedShiftWithSlot(store, "shift-2", "slot-2", now.Add(24*time.Hour))
	seedAttendance(store, "att-2", "ada", "slot-2", db.AttendancePending)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "ada"}, "att-1", db.AttendanceLookingForStandIn, "", now)
	assert.NoError(t, err)

	err = SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "ada"}, "att-2", db.AttendanceLookingForStandIn, "", now)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestSelfCancelStandInSearch(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.Add(24*time.Hour))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendanceLookingForStandIn)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "ada"}, "att-1", db.AttendancePending, "", now)

	require.NoError(t, err)
	assert.Equal(t, db.AttendancePending, store.attendances["att-1"].State)
}

func TestSetAttendanceStateRejectsOtherMembersAttendance(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFlying)
	seedMember(store, "grace", db.ModeFlying)
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 10))
	seedAttendance(store, "att-1", "grace", "slot-1", db.AttendancePending)

	err := SetAttendanceState(context.Background(), store, testLogger(), nil, nil, testSettings(),
		Actor{UserID: "ada"}, "att-1", db.AttendanceCancelled, "", now)

	assert.ErrorIs(t, err, ErrPermission)
}
