package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizoma-coop/tapir/pkg/db"
)

func TestApplyCycleStartChargesEveryActiveMember(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	seedMember(store, "grace", db.ModeFlying)
	cycleStart := date(2026, 3, 2)

	result, err := ApplyCycleStart(context.Background(), store, testLogger(), cycleStart, now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Charged)

	for _, userID := range []string{"ada", "grace"} {
		balance, err := store.GetAccountBalance(context.Background(), userID, nil)
		require.NoError(t, err)
		assert.Equal(t, -1, balance)
	}

	entries, err := store.GetAccountEntriesForUser(context.Background(), "ada")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Shift cycle starting 02.03.2026", entries[0].Description)
}

func TestApplyCycleStartIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "ada", db.ModeRegular)
	cycleStart := date(2026, 3, 2)

	_, err := ApplyCycleStart(context.Background(), store, testLogger(), cycleStart, now)
	require.NoError(t, err)

	result, err := ApplyCycleStart(context.Background(), store, testLogger(), cycleStart, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Charged)
	assert.Equal(t, 1, result.Skipped)

	balance, err := store.GetAccountBalance(context.Background(), "ada", nil)
	require.NoError(t, err)
	assert.Equal(t, -1, balance)
}

func TestApplyCycleStartSkipsFrozenAndExemptedMembers(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "frida", db.ModeFrozen)
	seedMember(store, "elsa", db.ModeRegular)
	store.exemptions["ex-1"] = db.ShiftExemption{
		ID:        "ex-1",
		UserID:    "elsa",
		StartDate: now.AddDate(0, 0, -10),
	}
	cycleStart := date(2026, 3, 2)

	result, err := ApplyCycleStart(context.Background(), store, testLogger(), cycleStart, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Charged)
	assert.Equal(t, 2, result.Skipped)

	for _, userID := range []string{"frida", "elsa"} {
		balance, err := store.GetAccountBalance(context.Background(), userID, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, balance)
	}
}

func TestApplyCycleStartRecordsEntryForSkippedMembers(t *testing.T) {
	store := newMemoryStore()
	now := store.now
	seedMember(store, "frida", db.ModeFrozen)
	cycleStart := date(2026, 3, 2)

	_, err := ApplyCycleStart(context.Background(), store, testLogger(), cycleStart, now)
	require.NoError(t, err)

	// The cycle entry exists even without a debit, so unfreezing the member
	// later does not retroactively charge them.
	applied, err := store.HasCycleEntry(context.Background(), "frida", cycleStart)
	require.NoError(t, err)
	assert.True(t, applied)
}
