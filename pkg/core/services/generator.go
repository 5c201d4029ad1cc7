package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
	"go.uber.org/zap"

	"github.com/rizoma-coop/tapir/pkg/core/interval"
	"github.com/rizoma-coop/tapir/pkg/db"
)

// GenerateOptions narrows a generator run. Zero values mean "no filter" and
// "default horizon".
type GenerateOptions struct {
	// StartDate defaults to today.
	StartDate time.Time
	// EndDate defaults to StartDate plus the configured horizon.
	EndDate time.Time
	// FilterGroupIDs restricts generation to the given template groups.
	FilterGroupIDs map[string]bool
	// FilterTemplateIDs restricts generation to the given templates.
	FilterTemplateIDs map[string]bool
	// Now overrides the current time, for tests.
	Now time.Time
}

// GenerateResult reports what a generator run did.
type GenerateResult struct {
	CreatedShifts   []db.Shift
	SkippedExisting int
}

// GenerateShiftsUpTo expands shift templates into concrete shifts, week by
// week, up to the rolling horizon. For each week it resolves the rotation
// group, instantiates every eligible template of that group, copies the slot
// templates into slots and materializes recurring registrations into pending
// attendances. The run is idempotent: a template is instantiated at most
// once per start time.
func GenerateShiftsUpTo(ctx context.Context, store db.Store, logger *zap.Logger, settings Settings, opts GenerateOptions) (*GenerateResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	start := opts.StartDate
	if start.IsZero() {
		start = interval.TruncateToDay(now)
	}
	end := opts.EndDate
	if end.IsZero() {
		end = start.AddDate(0, 0, 7*settings.GenerateWeeksAhead)
	}

	logger.Info("Generating shifts",
		zap.Time("start", start),
		zap.Time("end", end))

	groups, err := store.GetTemplateGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch template groups: %w", err)
	}
	if len(groups) == 0 {
		return nil, configurationErrorf("no shift template groups are defined")
	}
	// The rotation order follows the group names: A, B, C, D.
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })

	templates, err := store.GetShiftTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shift templates: %w", err)
	}
	templatesByGroup := make(map[string][]db.ShiftTemplate)
	for _, template := range templates {
		if template.GroupID == nil {
			// Ungrouped templates are placed manually, never generated.
			continue
		}
		templatesByGroup[*template.GroupID] = append(templatesByGroup[*template.GroupID], template)
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:    rrule.WEEKLY,
		Dtstart: interval.Monday(start),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build weekly recurrence: %w", err)
	}
	mondays := rule.Between(interval.Monday(start), interval.Monday(end), true)

	result := &GenerateResult{}
	for _, monday := range mondays {
		groupIndex, err := interval.WeekGroupIndexAt(monday, settings.CycleStartDates, len(groups))
		if err != nil {
			return nil, configurationErrorf("cannot resolve week group: %v", err)
		}
		group := groups[groupIndex]
		if opts.FilterGroupIDs != nil && !opts.FilterGroupIDs[group.ID] {
			continue
		}

		logger.Debug("Generating shifts for week",
			zap.Time("monday", monday),
			zap.String("group", group.Name))

		for _, template := range templatesByGroup[group.ID] {
			if opts.FilterTemplateIDs != nil && !opts.FilterTemplateIDs[template.ID] {
				continue
			}
			if template.StartDate != nil && interval.Monday(*template.StartDate).After(monday) {
				continue
			}

			created, err := createShiftFromTemplate(ctx, store, logger, template, monday)
			if err != nil {
				return nil, fmt.Errorf("failed to generate shift from template %s: %w", template.ID, err)
			}
			if created == nil {
				result.SkippedExisting++
				continue
			}
			result.CreatedShifts = append(result.CreatedShifts, *created)
		}
	}

	logger.Info("Shift generation finished",
		zap.Int("created", len(result.CreatedShifts)),
		zap.Int("skipped_existing", result.SkippedExisting))

	return result, nil
}

// createShiftFromTemplate instantiates one template for the week starting at
// monday. Returns nil if the shift already exists.
func createShiftFromTemplate(ctx context.Context, store db.Store, logger *zap.Logger, template db.ShiftTemplate, monday time.Time) (*db.Shift, error) {
	if template.StartTime == "" || template.EndTime == "" {
		return nil, configurationErrorf("template %q has no start or end time", template.Name)
	}

	shiftDate := monday
	if template.Weekday != nil {
		shiftDate = monday.AddDate(0, 0, (int(*template.Weekday)+6)%7)
	}
	startTime, err := interval.CombineDateTime(shiftDate, template.StartTime)
	if err != nil {
		return nil, configurationErrorf("template %q: %v", template.Name, err)
	}
	endTime, err := interval.CombineDateTime(shiftDate, template.EndTime)
	if err != nil {
		return nil, configurationErrorf("template %q: %v", template.Name, err)
	}
	if !endTime.After(startTime) {
		return nil, configurationErrorf("template %q must end after it starts", template.Name)
	}

	var created *db.Shift
	err = store.Transact(ctx, func(tx db.Store) error {
		existing, err := tx.GetShiftByTemplateAndStart(ctx, template.ID, startTime)
		if err != nil {
			return fmt.Errorf("failed to check for existing shift: %w", err)
		}
		if existing != nil {
			return nil
		}

		shift := &db.Shift{
			ID:                     newID(),
			ShiftTemplateID:        &template.ID,
			Name:                   template.Name,
			Description:            template.Description,
			StartTime:              startTime,
			EndTime:                endTime,
			NumRequiredAttendances: template.NumRequiredAttendances,
			Lifecycle:              db.ShiftActive,
		}
		if err := tx.InsertShift(ctx, shift); err != nil {
			return fmt.Errorf("failed to insert shift: %w", err)
		}

		slotTemplates, err := tx.GetSlotTemplates(ctx, template.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch slot templates: %w", err)
		}
		for _, slotTemplate := range slotTemplates {
			slot := &db.ShiftSlot{
				ID:                   newID(),
				ShiftID:              shift.ID,
				SlotTemplateID:       &slotTemplate.ID,
				Name:                 slotTemplate.Name,
				RequiredCapabilities: slotTemplate.RequiredCapabilities,
			}
			if err := tx.InsertSlot(ctx, slot); err != nil {
				return fmt.Errorf("failed to insert slot: %w", err)
			}

			if err := materializeAttendance(ctx, tx, logger, slotTemplate, slot, shift); err != nil {
				return err
			}
		}

		created = shift
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		logger.Debug("Created shift",
			zap.String("shift_id", created.ID),
			zap.String("template", template.Name),
			zap.Time("start_time", created.StartTime))
	}
	return created, nil
}

// materializeAttendance creates the pending attendance for the member with a
// recurring registration on the slot template, unless the member is exempted
// on the shift date.
func materializeAttendance(ctx context.Context, tx db.Store, logger *zap.Logger, slotTemplate db.ShiftSlotTemplate, slot *db.ShiftSlot, shift *db.Shift) error {
	attendanceTemplate, err := tx.GetAttendanceTemplateForSlotTemplate(ctx, slotTemplate.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch attendance template: %w", err)
	}
	if attendanceTemplate == nil {
		return nil
	}

	exempted, err := isExemptedAt(ctx, tx, attendanceTemplate.UserID, shift.StartTime)
	if err != nil {
		return err
	}
	if exempted {
		logger.Debug("Skipping attendance for exempted member",
			zap.String("user_id", attendanceTemplate.UserID),
			zap.Time("shift_start", shift.StartTime))
		return nil
	}

	attendance := &db.ShiftAttendance{
		ID:              newID(),
		UserID:          attendanceTemplate.UserID,
		SlotID:          slot.ID,
		State:           db.AttendancePending,
		LastStateUpdate: shift.StartTime,
	}
	if err := tx.InsertAttendance(ctx, attendance); err != nil {
		return fmt.Errorf("failed to insert attendance: %w", err)
	}
	return nil
}

// isExemptedAt reports whether the member has an active exemption or
// membership pause covering the given time.
func isExemptedAt(ctx context.Context, store db.Store, userID string, at time.Time) (bool, error) {
	exemptions, err := store.GetExemptionsForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch exemptions: %w", err)
	}
	for _, exemption := range exemptions {
		r := interval.DateRange{Start: exemption.StartDate, End: exemption.EndDate}
		if r.ActiveAt(at) {
			return true, nil
		}
	}
	pauses, err := store.GetMembershipPausesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch membership pauses: %w", err)
	}
	for _, pause := range pauses {
		r := interval.DateRange{Start: pause.StartDate, End: pause.EndDate}
		if r.ActiveAt(at) {
			return true, nil
		}
	}
	return false, nil
}

// UpdateFutureGeneratedShifts rewrites the future shifts generated from an
// edited template so they match its new definition. Shifts that already
// started are never touched.
func UpdateFutureGeneratedShifts(ctx context.Context, store db.Store, logger *zap.Logger, templateID string, now time.Time) error {
	template, err := store.GetShiftTemplate(ctx, templateID)
	if err != nil {
		return fmt.Errorf("failed to fetch shift template: %w", err)
	}
	if template == nil {
		return validationErrorf("template_id", "unknown shift template %s", templateID)
	}

	shifts, err := store.GetFutureShiftsForTemplate(ctx, templateID, now)
	if err != nil {
		return fmt.Errorf("failed to fetch future shifts: %w", err)
	}

	slotTemplates, err := store.GetSlotTemplates(ctx, templateID)
	if err != nil {
		return fmt.Errorf("failed to fetch slot templates: %w", err)
	}
	slotTemplatesByID := make(map[string]db.ShiftSlotTemplate, len(slotTemplates))
	for _, slotTemplate := range slotTemplates {
		slotTemplatesByID[slotTemplate.ID] = slotTemplate
	}

	return store.Transact(ctx, func(tx db.Store) error {
		for i := range shifts {
			shift := shifts[i]
			shiftDate := interval.Monday(shift.StartTime)
			if template.Weekday != nil {
				shiftDate = shiftDate.AddDate(0, 0, (int(*template.Weekday)+6)%7)
			}
			startTime, err := interval.CombineDateTime(shiftDate, template.StartTime)
			if err != nil {
				return configurationErrorf("template %q: %v", template.Name, err)
			}
			endTime, err := interval.CombineDateTime(shiftDate, template.EndTime)
			if err != nil {
				return configurationErrorf("template %q: %v", template.Name, err)
			}

			shift.StartTime = startTime
			shift.EndTime = endTime
			shift.Name = template.Name
			shift.Description = template.Description
			shift.NumRequiredAttendances = template.NumRequiredAttendances
			if err := tx.UpdateShift(ctx, &shift); err != nil {
				return fmt.Errorf("failed to update shift %s: %w", shift.ID, err)
			}

			slots, err := tx.GetSlotsForShift(ctx, shift.ID)
			if err != nil {
				return fmt.Errorf("failed to fetch slots: %w", err)
			}
			for j := range slots {
				slot := slots[j]
				if slot.SlotTemplateID == nil {
					continue
				}
				slotTemplate, ok := slotTemplatesByID[*slot.SlotTemplateID]
				if !ok {
					continue
				}
				slot.Name = slotTemplate.Name
				slot.RequiredCapabilities = slotTemplate.RequiredCapabilities
				if err := tx.UpdateSlot(ctx, &slot); err != nil {
					return fmt.Errorf("failed to update slot %s: %w", slot.ID, err)
				}
			}

			logger.Debug("Updated generated shift to fit template",
				zap.String("shift_id", shift.ID),
				zap.Time("start_time", shift.StartTime))
		}
		return nil
	})
}
