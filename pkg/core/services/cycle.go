package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// CycleResult summarises one cycle application run.
type CycleResult struct {
	Charged int
	Skipped int
}

// ApplyCycleStart books the cycle's shift requirement onto every member's
// account. Each member is debited one point for the cycle unless they are
// frozen, exempted or paused on its start date. A cycle entry is recorded per
// member so the run is idempotent and safe to repeat.
func ApplyCycleStart(ctx context.Context, store db.Store, logger *zap.Logger, cycleStart time.Time, now time.Time) (*CycleResult, error) {
	members, err := store.GetAllShiftUserData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}

	result := &CycleResult{}
	for i := range members {
		charged, err := applyCycleToMember(ctx, store, &members[i], cycleStart, now)
		if err != nil {
			logger.Error("Failed to apply cycle to member",
				zap.String("user_id", members[i].UserID),
				zap.Error(err))
			continue
		}
		if charged {
			result.Charged++
		} else {
			result.Skipped++
		}
	}

	logger.Info("Cycle applied",
		zap.Time("cycle_start", cycleStart),
		zap.Int("charged", result.Charged),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func applyCycleToMember(ctx context.Context, store db.Store, member *db.ShiftUserData, cycleStart time.Time, now time.Time) (bool, error) {
	applied, err := store.HasCycleEntry(ctx, member.UserID, cycleStart)
	if err != nil {
		return false, fmt.Errorf("failed to check cycle entry: %w", err)
	}
	if applied {
		return false, nil
	}

	requirement, err := cycleRequirement(ctx, store, member, cycleStart)
	if err != nil {
		return false, err
	}

	entry := &db.ShiftCycleEntry{
		ID:             newID(),
		UserID:         member.UserID,
		CycleStartDate: cycleStart,
	}

	err = store.Transact(ctx, func(tx db.Store) error {
		if requirement != 0 {
			accountEntry := &db.ShiftAccountEntry{
				ID:          newID(),
				UserID:      member.UserID,
				Value:       -requirement,
				Date:        now,
				Description: fmt.Sprintf("Shift cycle starting %s", cycleStart.Format("02.01.2006")),
			}
			if err := tx.InsertAccountEntry(ctx, accountEntry); err != nil {
				return fmt.Errorf("failed to insert account entry: %w", err)
			}
			entry.AccountEntryID = &accountEntry.ID
		}
		if err := tx.InsertCycleEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert cycle entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return requirement != 0, nil
}

// cycleRequirement returns how many shifts the member owes for the cycle.
// Frozen, exempted and paused members owe none.
func cycleRequirement(ctx context.Context, store db.Store, member *db.ShiftUserData, cycleStart time.Time) (int, error) {
	if !member.CanShop() {
		return 0, nil
	}
	exempted, err := isExemptedAt(ctx, store, member.UserID, cycleStart)
	if err != nil {
		return 0, err
	}
	if exempted {
		return 0, nil
	}
	return 1, nil
}
