package db

import "time"

// Shift user capabilities. Slots may require any subset of these.
const (
	CapabilityShiftCoordinator = "shift_coordinator"
	CapabilityCashier          = "cashier"
	CapabilityMemberOffice     = "member_office"
	CapabilityBreadDelivery    = "bread_delivery"
	CapabilityFirstAid         = "first_aid"
	CapabilityWelcomeSession   = "welcome_session"
	CapabilityInventory        = "inventory"
)

// ShiftTemplateGroup is a collection of shift templates that are instantiated
// together, normally one week of the ABCD rotation ("Week A", "Week B", ...).
type ShiftTemplateGroup struct {
	ID   string
	Name string
}

// ShiftTemplate is a recurring shift definition. Every cycle, when the
// template's group week comes around, one concrete Shift is generated from it
// on the template's weekday.
type ShiftTemplate struct {
	ID          string
	Name        string
	Description string
	// GroupID is nil for templates that are placed manually rather than
	// generated on the ABCD cadence.
	GroupID *string
	Weekday *time.Weekday
	// StartTime and EndTime are wall-clock times formatted as "15:04".
	StartTime string
	EndTime   string
	// StartDate limits generation: no shifts are generated for weeks before
	// it. Nil means the template has always been active.
	StartDate              *time.Time
	NumRequiredAttendances int
}

// ShiftSlotTemplate is a fillable position within a shift template.
type ShiftSlotTemplate struct {
	ID              string
	ShiftTemplateID string
	Name            string
	// RequiredCapabilities a member must all hold to fill this slot.
	RequiredCapabilities []string
}

// ShiftAttendanceTemplate is a recurring registration of a member to a slot
// template. Whenever a shift is generated from the template, an attendance is
// created for the member.
type ShiftAttendanceTemplate struct {
	ID             string
	UserID         string
	SlotTemplateID string
}

// ShiftLifecycle is the explicit lifecycle state of a shift. Shifts are never
// hard-deleted once attendances reference them; queries must filter on this.
type ShiftLifecycle string

const (
	ShiftActive  ShiftLifecycle = "active"
	ShiftDeleted ShiftLifecycle = "deleted"
)

// Shift is a concrete dated shift instance, usually generated from a template.
type Shift struct {
	ID string
	// ShiftTemplateID is nil for manually created shifts.
	ShiftTemplateID        *string
	Name                   string
	Description            string
	StartTime              time.Time
	EndTime                time.Time
	NumRequiredAttendances int
	Cancelled              bool
	CancelledReason        string
	Lifecycle              ShiftLifecycle
}

// IsInTheFuture reports whether the shift starts after now.
func (s *Shift) IsInTheFuture(now time.Time) bool {
	return s.StartTime.After(now)
}

// ShiftSlot is a fillable position within a concrete shift.
type ShiftSlot struct {
	ID      string
	ShiftID string
	// SlotTemplateID is nil for slots of manually created shifts.
	SlotTemplateID       *string
	Name                 string
	RequiredCapabilities []string
}

// AttendanceState is the outcome state of a member's registration to a slot.
type AttendanceState string

const (
	AttendancePending           AttendanceState = "pending"
	AttendanceDone              AttendanceState = "done"
	AttendanceCancelled         AttendanceState = "cancelled"
	AttendanceMissed            AttendanceState = "missed"
	AttendanceMissedExcused     AttendanceState = "missed_excused"
	AttendanceLookingForStandIn AttendanceState = "looking_for_stand_in"
)

// ValidAttendanceStates are the states in which an attendance blocks its slot.
// A slot holds at most one attendance in one of these states at any time.
var ValidAttendanceStates = []AttendanceState{
	AttendancePending,
	AttendanceDone,
	AttendanceLookingForStandIn,
}

// ExpectedToShowUpStates are the states in which the member is still expected
// to come to the shift. These are the attendances cancelled by exemptions,
// pauses and freezing.
var ExpectedToShowUpStates = []AttendanceState{
	AttendancePending,
	AttendanceLookingForStandIn,
}

// ShiftAttendance records a member's registration and outcome for one slot.
type ShiftAttendance struct {
	ID              string
	UserID          string
	SlotID          string
	State           AttendanceState
	ExcusedReason   string
	LastStateUpdate time.Time
	// AccountEntryID links the ledger entry created by the current state, if
	// any. Rewritten whenever the state changes.
	AccountEntryID *string
	// IsSolidarity marks a DONE attendance that has been given away as a
	// solidarity shift. It can no longer be given a second time.
	IsSolidarity bool
	ReminderSent bool
}

// IsValid reports whether the attendance blocks its slot.
func (a *ShiftAttendance) IsValid() bool {
	return StateIn(a.State, ValidAttendanceStates)
}

// StateIn reports whether state is one of states.
func StateIn(state AttendanceState, states []AttendanceState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// ValidAttendance returns the single valid attendance among the given ones,
// or nil if the slot is free.
func ValidAttendance(attendances []ShiftAttendance) *ShiftAttendance {
	for i := range attendances {
		if attendances[i].IsValid() {
			return &attendances[i]
		}
	}
	return nil
}

// AttendanceDetail is an attendance joined with the slot and shift it belongs
// to, for callers that need the shift times without extra round trips.
type AttendanceDetail struct {
	Attendance     ShiftAttendance
	SlotName       string
	SlotTemplateID *string
	ShiftID        string
	ShiftName      string
	ShiftStart     time.Time
	ShiftEnd       time.Time
	ShiftCancelled bool
}

// ShiftAccountEntry is a signed point entry in a member's shift account.
// Entries are append-only; the balance at a date is the sum of all entries
// with an earlier or equal date.
type ShiftAccountEntry struct {
	ID          string
	UserID      string
	Value       int
	Date        time.Time
	Description string
}

// AttendanceMode describes how a member takes part in shift work.
type AttendanceMode string

const (
	// ModeRegular members attend a fixed ABCD slot every cycle.
	ModeRegular AttendanceMode = "regular"
	// ModeFlying members register to individual shifts as they please.
	ModeFlying AttendanceMode = "flying"
	// ModeFrozen members lost their shop access over a too-negative balance.
	ModeFrozen AttendanceMode = "frozen"
)

// ShiftUserData is the per-member shift metadata.
type ShiftUserData struct {
	UserID         string
	Capabilities   []string
	AttendanceMode AttendanceMode
	// ShiftPartnerID points at the member covering shifts for this (usually
	// investing) member. The inverse relation is looked up, never stored.
	ShiftPartnerID *string
	Email          string
	DisplayName    string
}

// HasCapabilities reports whether the member holds every required capability.
func (d *ShiftUserData) HasCapabilities(required []string) bool {
	for _, r := range required {
		found := false
		for _, c := range d.Capabilities {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CanShop reports whether the member currently has shop access.
func (d *ShiftUserData) CanShop() bool {
	return d.AttendanceMode != ModeFrozen
}

// ShiftExemption is an interval during which a member is excused from shift
// work. The interval is half-open [StartDate, EndDate); a nil EndDate means
// the exemption is open-ended.
type ShiftExemption struct {
	ID          string
	UserID      string
	StartDate   time.Time
	EndDate     *time.Time
	Description string
}

// MembershipPause is an interval pausing all of a member's obligations,
// shift work included. Same interval semantics as ShiftExemption.
type MembershipPause struct {
	ID          string
	UserID      string
	StartDate   time.Time
	EndDate     *time.Time
	Description string
}

// SolidarityShift is a transferable shift credit. It is created when a member
// gives away one of their DONE attendances and consumed when another member
// uses it.
type SolidarityShift struct {
	ID           string
	GiverUserID  string
	AttendanceID string
	DateGiven    time.Time
	UsedUp       bool
	DateUsed     *time.Time
	UsedByUserID *string
}

// ShiftCycleEntry records that the cycle starting at CycleStartDate has been
// applied to a member's account. At most one entry exists per member and
// cycle date, which makes applying a cycle idempotent.
type ShiftCycleEntry struct {
	ID             string
	UserID         string
	CycleStartDate time.Time
	AccountEntryID *string
}
