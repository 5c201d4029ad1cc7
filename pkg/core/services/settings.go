package services

import (
	"time"

	"github.com/google/uuid"
)

// Settings carries the tunables of the shift engine. Values come from the
// application configuration; defaults match the cooperative's house rules.
type Settings struct {
	// CycleStartDates anchor the ABCD rotation. The week containing the most
	// recent anchor is a group-A week.
	CycleStartDates []time.Time
	// GenerateWeeksAhead is the rolling horizon of the shift generator.
	GenerateWeeksAhead int
	// CycleDays is the length of one full rotation cycle.
	CycleDays int
	// FreezeThreshold is the balance at or below which a member may be
	// frozen.
	FreezeThreshold int
	// FreezeAfterDays is how long a member must stay at or below the
	// threshold before freezing, and the minimum interval between repeated
	// freeze warnings.
	FreezeAfterDays int
	// MakeUpWeeks is how far ahead upcoming registrations count as
	// compensation for a negative balance.
	MakeUpWeeks int
	// SelfUnregisterDays is the minimum number of days before a shift start
	// for self-service unregistration.
	SelfUnregisterDays int
	// SelfLookForStandInDays is the minimum number of days before a shift
	// start for starting a self-service stand-in search.
	SelfLookForStandInDays int
	// ExemptionUnregisterCycles: exemptions at least this many cycles long
	// also unregister the member from their ABCD slots.
	ExemptionUnregisterCycles int
	// SolidarityUsesPerYear caps how many solidarity shifts a member may
	// receive per calendar year.
	SolidarityUsesPerYear int
	// SolidarityShiftsEnabled gates the solidarity shift feature.
	SolidarityShiftsEnabled bool
}

// DefaultSettings returns the production defaults. CycleStartDates must
// still be provided by configuration.
func DefaultSettings() Settings {
	return Settings{
		GenerateWeeksAhead:        52,
		CycleDays:                 28,
		FreezeThreshold:           -5,
		FreezeAfterDays:           10,
		MakeUpWeeks:               8,
		SelfUnregisterDays:        7,
		SelfLookForStandInDays:    2,
		ExemptionUnregisterCycles: 6,
		SolidarityUsesPerYear:     2,
	}
}

func newID() string {
	return uuid.New().String()
}
