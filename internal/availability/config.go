package availability

import (
	"fmt"
	"time"
)

// WorkingHours is the local opening window, in whole hours (0-24).
type WorkingHours struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Config is the instructor's working-hours policy.
type Config struct {
	Timezone      string         `json:"timezone"`
	WorkingHours  WorkingHours   `json:"working_hours"`
	WorkingDays   []time.Weekday `json:"working_days"`
	SlotDuration  int            `json:"slot_duration"`  // minutes, informational
	BufferMinutes int            `json:"buffer_minutes"` // appended after every slot
}

// DefaultConfig returns the standard instructor policy: 9:00-21:00,
// Monday to Saturday, 30 minute slots with a 15 minute buffer.
func DefaultConfig(timezone string) Config {
	if timezone == "" {
		timezone = "Asia/Tokyo"
	}
	return Config{
		Timezone:     timezone,
		WorkingHours: WorkingHours{Start: 9, End: 21},
		WorkingDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		SlotDuration:  30,
		BufferMinutes: 15,
	}
}

// Validate checks the policy invariants and resolves its timezone.
func (c Config) Validate() (*time.Location, error) {
	if c.WorkingHours.Start < 0 || c.WorkingHours.End > 24 {
		return nil, fmt.Errorf("%w: working hours %d-%d outside 0-24",
			ErrInvalidConfiguration, c.WorkingHours.Start, c.WorkingHours.End)
	}
	if c.WorkingHours.Start >= c.WorkingHours.End {
		return nil, fmt.Errorf("%w: empty working window %d-%d",
			ErrInvalidConfiguration, c.WorkingHours.Start, c.WorkingHours.End)
	}
	if len(c.WorkingDays) == 0 {
		return nil, fmt.Errorf("%w: no working days", ErrInvalidConfiguration)
	}
	for _, d := range c.WorkingDays {
		if d < time.Sunday || d > time.Saturday {
			return nil, fmt.Errorf("%w: weekday %d out of range", ErrInvalidConfiguration, d)
		}
	}
	if c.SlotDuration <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive", ErrInvalidConfiguration)
	}
	if c.BufferMinutes < 0 {
		return nil, fmt.Errorf("%w: negative buffer", ErrInvalidConfiguration)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidConfiguration, c.Timezone)
	}
	return loc, nil
}

func (c Config) isWorkingDay(d time.Weekday) bool {
	for _, wd := range c.WorkingDays {
		if wd == d {
			return true
		}
	}
	return false
}
