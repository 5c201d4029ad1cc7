package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizoma-coop/tapir/pkg/db"
)

func TestRunFreezeChecksFreezesExactlyOnce(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	settings := testSettings()
	seedMember(store, "ada", db.ModeRegular)
	seedAccountEntry(store, "entry-1", "ada", -6, now.AddDate(0, 0, -30))
	store.attendanceTemplates["att-template-1"] = db.ShiftAttendanceTemplate{
		ID:             "att-template-1",
		UserID:         "ada",
		SlotTemplateID: "slot-template-1",
	}
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 5))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)

	notifier := &recordingNotifier{}
	result, err := RunFreezeChecks(context.Background(), store, testLogger(), notifier, settings, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Frozen)

	member := store.userData["ada"]
	assert.Equal(t, db.ModeFrozen, member.AttendanceMode)
	assert.Empty(t, store.attendanceTemplates)
	assert.Equal(t, db.AttendanceCancelled, store.attendances["att-1"].State)
	assert.Equal(t, []NotificationKind{NotificationMemberFrozen}, notifier.kinds())

	// Each cancelled attendance leaves an audit trail entry.
	cancellations := store.logEntriesOfType(db.LogUpdateAttendanceState)
	require.Len(t, cancellations, 1)
	assert.Equal(t, string(db.AttendancePending), cancellations[0].Before)
	assert.Equal(t, string(db.AttendanceCancelled), cancellations[0].After)

	// A second run must not freeze or notify again.
	result, err = RunFreezeChecks(context.Background(), store, testLogger(), notifier, settings, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Frozen)
	assert.Len(t, notifier.sent, 1)
}

func TestRunFreezeChecksCompensationPreventsFreeze(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	settings := testSettings()
	seedMember(store, "ada", db.ModeRegular)
	seedAccountEntry(store, "entry-1", "ada", -6, now.AddDate(0, 0, -30))
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 7))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)
	seedShiftWithSlot(store, "shift-2", "slot-2", now.AddDate(0, 0, 14))
	seedAttendance(store, "att-2", "ada", "slot-2", db.AttendancePending)

	notifier := &recordingNotifier{}
	result, err := RunFreezeChecks(context.Background(), store, testLogger(), notifier, settings, now)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Frozen)
	assert.Equal(t, db.ModeRegular, store.userData["ada"].AttendanceMode)
	// Still below the threshold, so the member gets warned.
	assert.Equal(t, 1, result.Warned)
	assert.Equal(t, []NotificationKind{NotificationFreezeWarning}, notifier.kinds())
}

func TestRunFreezeChecksWarningIsRateLimited(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	settings := testSettings()
	seedMember(store, "ada", db.ModeRegular)
	seedAccountEntry(store, "entry-1", "ada", -6, now.AddDate(0, 0, -30))
	seedShiftWithSlot(store, "shift-1", "slot-1", now.AddDate(0, 0, 7))
	seedAttendance(store, "att-1", "ada", "slot-1", db.AttendancePending)
	seedShiftWithSlot(store, "shift-2", "slot-2", now.AddDate(0, 0, 14))
	seedAttendance(store, "att-2", "ada", "slot-2", db.AttendancePending)

	notifier := &recordingNotifier{}
	_, err := RunFreezeChecks(context.Background(), store, testLogger(), notifier, settings, now)
	require.NoError(t, err)
	require.Len(t, notifier.sent, 1)

	result, err := RunFreezeChecks(context.Background(), store, testLogger(), notifier, settings, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Warned)
	assert.Len(t, notifier.sent, 1)

	// After the rate-limit interval the warning repeats.
	later := now.AddDate(0, 0, settings.FreezeAfterDays+1)
	result, err = RunFreezeChecks(context.Background(), store, testLogger(), notifier, settings, later)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Warned)
}

func TestRunFreezeChecksUnfreezesRecoveredMember(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFrozen)
	seedAccountEntry(store, "entry-1", "ada", 0, now.AddDate(0, 0, -5))

	notifier := &recordingNotifier{}
	result, err := RunFreezeChecks(context.Background(), store, testLogger(), notifier, testSettings(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Unfrozen)
	assert.Equal(t, db.ModeRegular, store.userData["ada"].AttendanceMode)
	assert.Equal(t, []NotificationKind{NotificationUnfrozen}, notifier.kinds())
}

func TestShouldFreezeIgnoresRecentDips(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	settings := testSettings()
	seedMember(store, "ada", db.ModeRegular)
	// The member only fell below the threshold two days ago.
	seedAccountEntry(store, "entry-1", "ada", -3, now.AddDate(0, 0, -30))
	seedAccountEntry(store, "entry-2", "ada", -3, now.AddDate(0, 0, -2))

	member := store.userData["ada"]
	shouldFreeze, err := ShouldFreezeMember(context.Background(), store, settings, &member, now)

	require.NoError(t, err)
	assert.False(t, shouldFreeze)
}

func TestShouldFreezeSkipsExemptedMembers(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedAccountEntry(store, "entry-1", "ada", -6, now.AddDate(0, 0, -30))
	store.exemptions["ex-1"] = db.ShiftExemption{
		ID:        "ex-1",
		UserID:    "ada",
		StartDate: now.AddDate(0, 0, -10),
	}

	member := store.userData["ada"]
	shouldFreeze, err := ShouldFreezeMember(context.Background(), store, testSettings(), &member, now)

	require.NoError(t, err)
	assert.False(t, shouldFreeze)
}

func TestShouldFreezeSkipsMembersWithShiftPartner(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	member := store.userData["ada"]
	member.ShiftPartnerID = strPtr("grace")
	store.userData["ada"] = member
	seedAccountEntry(store, "entry-1", "ada", -6, now.AddDate(0, 0, -30))

	shouldFreeze, err := ShouldFreezeMember(context.Background(), store, testSettings(), &member, now)

	require.NoError(t, err)
	assert.False(t, shouldFreeze)
}

func TestFreezeMemberIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeFrozen)

	notifier := &recordingNotifier{}
	err := FreezeMember(context.Background(), store, testLogger(), notifier, Actor{}, "ada", now)

	require.NoError(t, err)
	assert.Empty(t, notifier.sent)
	assert.Empty(t, store.logEntriesOfType(db.LogUpdateShiftUserData))
}
