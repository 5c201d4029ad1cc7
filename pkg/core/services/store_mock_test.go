package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rizoma-coop/tapir/pkg/db"
)

// memoryStore is an in-memory db.Store shared by the service tests. It keeps
// the same query semantics as the postgres implementation but holds
// everything in maps.
type memoryStore struct {
	templateGroups      map[string]db.ShiftTemplateGroup
	shiftTemplates      map[string]db.ShiftTemplate
	slotTemplates       map[string]db.ShiftSlotTemplate
	attendanceTemplates map[string]db.ShiftAttendanceTemplate
	shifts              map[string]db.Shift
	slots               map[string]db.ShiftSlot
	attendances         map[string]db.ShiftAttendance
	accountEntries      map[string]db.ShiftAccountEntry
	userData            map[string]db.ShiftUserData
	exemptions          map[string]db.ShiftExemption
	pauses              map[string]db.MembershipPause
	solidarityShifts    map[string]db.SolidarityShift
	cycleEntries        map[string]db.ShiftCycleEntry
	logEntries          []db.LogEntry

	now time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		templateGroups:      map[string]db.ShiftTemplateGroup{},
		shiftTemplates:      map[string]db.ShiftTemplate{},
		slotTemplates:       map[string]db.ShiftSlotTemplate{},
		attendanceTemplates: map[string]db.ShiftAttendanceTemplate{},
		shifts:              map[string]db.Shift{},
		slots:               map[string]db.ShiftSlot{},
		attendances:         map[string]db.ShiftAttendance{},
		accountEntries:      map[string]db.ShiftAccountEntry{},
		userData:            map[string]db.ShiftUserData{},
		exemptions:          map[string]db.ShiftExemption{},
		pauses:              map[string]db.MembershipPause{},
		solidarityShifts:    map[string]db.SolidarityShift{},
		cycleEntries:        map[string]db.ShiftCycleEntry{},
		now:                 time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memoryStore) GetTemplateGroups(ctx context.Context) ([]db.ShiftTemplateGroup, error) {
	var groups []db.ShiftTemplateGroup
	for _, g := range m.templateGroups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (m *memoryStore) GetShiftTemplates(ctx context.Context) ([]db.ShiftTemplate, error) {
	var templates []db.ShiftTemplate
	for _, t := range m.shiftTemplates {
		templates = append(templates, t)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

func (m *memoryStore) GetShiftTemplate(ctx context.Context, id string) (*db.ShiftTemplate, error) {
	if t, ok := m.shiftTemplates[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memoryStore) GetSlotTemplates(ctx context.Context, shiftTemplateID string) ([]db.ShiftSlotTemplate, error) {
	var templates []db.ShiftSlotTemplate
	for _, t := range m.slotTemplates {
		if t.ShiftTemplateID == shiftTemplateID {
			templates = append(templates, t)
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

func (m *memoryStore) GetAttendanceTemplateForSlotTemplate(ctx context.Context, slotTemplateID string) (*db.ShiftAttendanceTemplate, error) {
	for _, t := range m.attendanceTemplates {
		if t.SlotTemplateID == slotTemplateID {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetAttendanceTemplate(ctx context.Context, id string) (*db.ShiftAttendanceTemplate, error) {
	if t, ok := m.attendanceTemplates[id]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *memoryStore) GetAttendanceTemplatesForUser(ctx context.Context, userID string) ([]db.ShiftAttendanceTemplate, error) {
	var templates []db.ShiftAttendanceTemplate
	for _, t := range m.attendanceTemplates {
		if t.UserID == userID {
			templates = append(templates, t)
		}
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
	return templates, nil
}

func (m *memoryStore) InsertAttendanceTemplate(ctx context.Context, template *db.ShiftAttendanceTemplate) error {
	m.attendanceTemplates[template.ID] = *template
	return nil
}

func (m *memoryStore) DeleteAttendanceTemplate(ctx context.Context, id string) error {
	delete(m.attendanceTemplates, id)
	return nil
}

func (m *memoryStore) GetShift(ctx context.Context, id string) (*db.Shift, error) {
	if s, ok := m.shifts[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memoryStore) GetShiftByTemplateAndStart(ctx context.Context, templateID string, start time.Time) (*db.Shift, error) {
	for _, s := range m.shifts {
		if s.Lifecycle != db.ShiftActive || s.ShiftTemplateID == nil {
			continue
		}
		if *s.ShiftTemplateID == templateID && s.StartTime.Equal(start) {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetFutureShiftsForTemplate(ctx context.Context, templateID string, after time.Time) ([]db.Shift, error) {
	var shifts []db.Shift
	for _, s := range m.shifts {
		if s.Lifecycle != db.ShiftActive || s.ShiftTemplateID == nil {
			continue
		}
		if *s.ShiftTemplateID == templateID && s.StartTime.After(after) {
			shifts = append(shifts, s)
		}
	}
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].StartTime.Before(shifts[j].StartTime) })
	return shifts, nil
}

func (m *memoryStore) InsertShift(ctx context.Context, shift *db.Shift) error {
	m.shifts[shift.ID] = *shift
	return nil
}

func (m *memoryStore) UpdateShift(ctx context.Context, shift *db.Shift) error {
	m.shifts[shift.ID] = *shift
	return nil
}

func (m *memoryStore) GetSlot(ctx context.Context, id string) (*db.ShiftSlot, error) {
	if s, ok := m.slots[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memoryStore) GetSlotsForShift(ctx context.Context, shiftID string) ([]db.ShiftSlot, error) {
	var slots []db.ShiftSlot
	for _, s := range m.slots {
		if s.ShiftID == shiftID {
			slots = append(slots, s)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].ID < slots[j].ID })
	return slots, nil
}

func (m *memoryStore) GetSlotsForSlotTemplate(ctx context.Context, slotTemplateID string, after time.Time) ([]db.ShiftSlot, error) {
	var slots []db.ShiftSlot
	for _, s := range m.slots {
		if s.SlotTemplateID == nil || *s.SlotTemplateID != slotTemplateID {
			continue
		}
		shift, ok := m.shifts[s.ShiftID]
		if !ok || shift.Lifecycle != db.ShiftActive || !shift.StartTime.After(after) {
			continue
		}
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		return m.shifts[slots[i].ShiftID].StartTime.Before(m.shifts[slots[j].ShiftID].StartTime)
	})
	return slots, nil
}

func (m *memoryStore) InsertSlot(ctx context.Context, slot *db.ShiftSlot) error {
	m.slots[slot.ID] = *slot
	return nil
}

func (m *memoryStore) UpdateSlot(ctx context.Context, slot *db.ShiftSlot) error {
	m.slots[slot.ID] = *slot
	return nil
}

func (m *memoryStore) GetAttendance(ctx context.Context, id string) (*db.ShiftAttendance, error) {
	if a, ok := m.attendances[id]; ok {
		return &a, nil
	}
	return nil, nil
}

func (m *memoryStore) GetAttendanceDetail(ctx context.Context, id string) (*db.AttendanceDetail, error) {
	a, ok := m.attendances[id]
	if !ok {
		return nil, nil
	}
	return m.detailFor(a), nil
}

func (m *memoryStore) detailFor(a db.ShiftAttendance) *db.AttendanceDetail {
	slot := m.slots[a.SlotID]
	shift := m.shifts[slot.ShiftID]
	return &db.AttendanceDetail{
		Attendance:     a,
		SlotName:       slot.Name,
		SlotTemplateID: slot.SlotTemplateID,
		ShiftID:        shift.ID,
		ShiftName:      shift.Name,
		ShiftStart:     shift.StartTime,
		ShiftEnd:       shift.EndTime,
		ShiftCancelled: shift.Cancelled,
	}
}

func (m *memoryStore) GetAttendancesForSlot(ctx context.Context, slotID string) ([]db.ShiftAttendance, error) {
	var attendances []db.ShiftAttendance
	for _, a := range m.attendances {
		if a.SlotID == slotID {
			attendances = append(attendances, a)
		}
	}
	sort.Slice(attendances, func(i, j int) bool { return attendances[i].ID < attendances[j].ID })
	return attendances, nil
}

func (m *memoryStore) GetAttendancesForShiftAndUser(ctx context.Context, shiftID, userID string) ([]db.ShiftAttendance, error) {
	var attendances []db.ShiftAttendance
	for _, a := range m.attendances {
		if a.UserID != userID {
			continue
		}
		if slot, ok := m.slots[a.SlotID]; ok && slot.ShiftID == shiftID {
			attendances = append(attendances, a)
		}
	}
	return attendances, nil
}

func (m *memoryStore) GetExpectedAttendancesForUser(ctx context.Context, userID string, from time.Time) ([]db.AttendanceDetail, error) {
	var details []db.AttendanceDetail
	for _, a := range m.attendances {
		if a.UserID != userID || !db.StateIn(a.State, db.ExpectedToShowUpStates) {
			continue
		}
		slot := m.slots[a.SlotID]
		shift := m.shifts[slot.ShiftID]
		if shift.Lifecycle != db.ShiftActive || shift.StartTime.Before(from) {
			continue
		}
		details = append(details, *m.detailFor(a))
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ShiftStart.Before(details[j].ShiftStart) })
	return details, nil
}

func (m *memoryStore) GetDoneNonSolidarityAttendanceForUser(ctx context.Context, userID string) (*db.ShiftAttendance, error) {
	var ids []string
	for id, a := range m.attendances {
		if a.UserID == userID && a.State == db.AttendanceDone && !a.IsSolidarity {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	a := m.attendances[ids[0]]
	return &a, nil
}

func (m *memoryStore) InsertAttendance(ctx context.Context, attendance *db.ShiftAttendance) error {
	// Mirrors the unique index on valid attendances per slot.
	if db.StateIn(attendance.State, db.ValidAttendanceStates) {
		for _, existing := range m.attendances {
			if existing.SlotID == attendance.SlotID && existing.ID != attendance.ID &&
				db.StateIn(existing.State, db.ValidAttendanceStates) {
				return fmt.Errorf("duplicate valid attendance for slot %s", attendance.SlotID)
			}
		}
	}
	m.attendances[attendance.ID] = *attendance
	return nil
}

func (m *memoryStore) UpdateAttendance(ctx context.Context, attendance *db.ShiftAttendance) error {
	m.attendances[attendance.ID] = *attendance
	return nil
}

func (m *memoryStore) InsertAccountEntry(ctx context.Context, entry *db.ShiftAccountEntry) error {
	m.accountEntries[entry.ID] = *entry
	return nil
}

func (m *memoryStore) DeleteAccountEntry(ctx context.Context, id string) error {
	delete(m.accountEntries, id)
	return nil
}

func (m *memoryStore) GetAccountEntriesForUser(ctx context.Context, userID string) ([]db.ShiftAccountEntry, error) {
	var entries []db.ShiftAccountEntry
	for _, e := range m.accountEntries {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.After(entries[j].Date) })
	return entries, nil
}

func (m *memoryStore) GetAccountBalance(ctx context.Context, userID string, at *time.Time) (int, error) {
	balance := 0
	for _, e := range m.accountEntries {
		if e.UserID != userID {
			continue
		}
		if at != nil && e.Date.After(*at) {
			continue
		}
		balance += e.Value
	}
	return balance, nil
}

func (m *memoryStore) GetShiftUserData(ctx context.Context, userID string) (*db.ShiftUserData, error) {
	if d, ok := m.userData[userID]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *memoryStore) GetAllShiftUserData(ctx context.Context) ([]db.ShiftUserData, error) {
	var data []db.ShiftUserData
	for _, d := range m.userData {
		data = append(data, d)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].UserID < data[j].UserID })
	return data, nil
}

func (m *memoryStore) UpdateShiftUserData(ctx context.Context, data *db.ShiftUserData) error {
	m.userData[data.UserID] = *data
	return nil
}

func (m *memoryStore) GetShiftPartnerOf(ctx context.Context, userID string) (*db.ShiftUserData, error) {
	for _, d := range m.userData {
		if d.ShiftPartnerID != nil && *d.ShiftPartnerID == userID {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) GetExemption(ctx context.Context, id string) (*db.ShiftExemption, error) {
	if e, ok := m.exemptions[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *memoryStore) GetExemptionsForUser(ctx context.Context, userID string) ([]db.ShiftExemption, error) {
	var exemptions []db.ShiftExemption
	for _, e := range m.exemptions {
		if e.UserID == userID {
			exemptions = append(exemptions, e)
		}
	}
	return exemptions, nil
}

func (m *memoryStore) InsertExemption(ctx context.Context, exemption *db.ShiftExemption) error {
	m.exemptions[exemption.ID] = *exemption
	return nil
}

func (m *memoryStore) UpdateExemption(ctx context.Context, exemption *db.ShiftExemption) error {
	m.exemptions[exemption.ID] = *exemption
	return nil
}

func (m *memoryStore) DeleteExemption(ctx context.Context, id string) error {
	delete(m.exemptions, id)
	return nil
}

func (m *memoryStore) GetMembershipPausesForUser(ctx context.Context, userID string) ([]db.MembershipPause, error) {
	var pauses []db.MembershipPause
	for _, p := range m.pauses {
		if p.UserID == userID {
			pauses = append(pauses, p)
		}
	}
	return pauses, nil
}

func (m *memoryStore) InsertMembershipPause(ctx context.Context, pause *db.MembershipPause) error {
	m.pauses[pause.ID] = *pause
	return nil
}

func (m *memoryStore) InsertSolidarityShift(ctx context.Context, shift *db.SolidarityShift) error {
	m.solidarityShifts[shift.ID] = *shift
	return nil
}

func (m *memoryStore) UpdateSolidarityShift(ctx context.Context, shift *db.SolidarityShift) error {
	m.solidarityShifts[shift.ID] = *shift
	return nil
}

func (m *memoryStore) GetOldestAvailableSolidarityShift(ctx context.Context) (*db.SolidarityShift, error) {
	var oldest *db.SolidarityShift
	for _, s := range m.solidarityShifts {
		if s.UsedUp {
			continue
		}
		s := s
		if oldest == nil || s.DateGiven.Before(oldest.DateGiven) {
			oldest = &s
		}
	}
	return oldest, nil
}

func (m *memoryStore) CountSolidarityShiftsUsedInYear(ctx context.Context, userID string, year int) (int, error) {
	count := 0
	for _, s := range m.solidarityShifts {
		if !s.UsedUp || s.UsedByUserID == nil || *s.UsedByUserID != userID {
			continue
		}
		if s.DateUsed != nil && s.DateUsed.Year() == year {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) HasCycleEntry(ctx context.Context, userID string, cycleStart time.Time) (bool, error) {
	for _, e := range m.cycleEntries {
		if e.UserID == userID && e.CycleStartDate.Equal(cycleStart) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) InsertCycleEntry(ctx context.Context, entry *db.ShiftCycleEntry) error {
	m.cycleEntries[entry.ID] = *entry
	return nil
}

func (m *memoryStore) InsertLogEntry(ctx context.Context, entry *db.LogEntry) error {
	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now
	}
	m.logEntries = append(m.logEntries, stored)
	return nil
}

func (m *memoryStore) GetLastNotificationSent(ctx context.Context, userID, kind string) (*db.LogEntry, error) {
	var last *db.LogEntry
	for i := range m.logEntries {
		e := m.logEntries[i]
		if e.Type != db.LogNotificationSent || e.UserID != userID || e.Message != kind {
			continue
		}
		if last == nil || e.CreatedAt.After(last.CreatedAt) {
			last = &e
		}
	}
	return last, nil
}

func (m *memoryStore) Transact(ctx context.Context, fn func(db.Store) error) error {
	return fn(m)
}

func (m *memoryStore) logEntriesOfType(entryType db.LogEntryType) []db.LogEntry {
	var entries []db.LogEntry
	for _, e := range m.logEntries {
		if e.Type == entryType {
			entries = append(entries, e)
		}
	}
	return entries
}

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	sent    []Notification
	sendErr error
}

func (n *recordingNotifier) Send(ctx context.Context, notification Notification) error {
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) kinds() []NotificationKind {
	var kinds []NotificationKind
	for _, notification := range n.sent {
		kinds = append(kinds, notification.Kind)
	}
	return kinds
}

// recordingCalendar captures attendance sync calls.
type recordingCalendar struct {
	synced []db.AttendanceDetail
}

func (c *recordingCalendar) OnAttendanceChanged(ctx context.Context, detail db.AttendanceDetail) error {
	c.synced = append(c.synced, detail)
	return nil
}
