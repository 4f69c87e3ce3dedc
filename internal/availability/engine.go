package availability

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAdvanceNotice = 36 * time.Hour
	DefaultDaysAhead     = 14
	DefaultFetchTimeout  = 8 * time.Second

	// slotCheckMargin widens the busy query around a single slot.
	slotCheckMargin = time.Hour
)

// BusyPeriod is a half-open interval [Start, End) reported by the calendar.
type BusyPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TimeSlot is a bookable interval. Start and End are UTC; Formatted is the
// local wall clock in the instructor's timezone.
type TimeSlot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Formatted string    `json:"formatted"`
}

// DayAvailability groups the slots of one local calendar day.
type DayAvailability struct {
	Date  string     `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

// BusySource answers free/busy queries for a calendar. An empty slice means
// the calendar is free; failures must be reported as errors.
type BusySource interface {
	BusyPeriods(ctx context.Context, calendarID string, from, to time.Time) ([]BusyPeriod, error)
}

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	CalendarID    string
	Clock         Clock
	Lessons       map[LessonType]time.Duration
	AdvanceNotice time.Duration
	Policy        Config
	DaysAhead     int
	FetchTimeout  time.Duration
	Logger        *zap.Logger
}

// Engine computes bookable slots. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	source        BusySource
	calendarID    string
	clock         Clock
	lessons       map[LessonType]time.Duration
	advanceNotice time.Duration
	policy        Config
	daysAhead     int
	fetchTimeout  time.Duration
	logger        *zap.Logger
}

func NewEngine(source BusySource, opts Options) *Engine {
	e := &Engine{
		source:        source,
		calendarID:    opts.CalendarID,
		clock:         opts.Clock,
		lessons:       opts.Lessons,
		advanceNotice: opts.AdvanceNotice,
		policy:        opts.Policy,
		daysAhead:     opts.DaysAhead,
		fetchTimeout:  opts.FetchTimeout,
		logger:        opts.Logger,
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if len(e.lessons) == 0 {
		e.lessons = DefaultLessonDurations
	}
	if e.advanceNotice <= 0 {
		e.advanceNotice = DefaultAdvanceNotice
	}
	if e.policy.Timezone == "" {
		e.policy = DefaultConfig("")
	}
	if e.daysAhead <= 0 {
		e.daysAhead = DefaultDaysAhead
	}
	if e.fetchTimeout <= 0 {
		e.fetchTimeout = DefaultFetchTimeout
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// InstructorTimezone returns the IANA zone of the default policy.
func (e *Engine) InstructorTimezone() string {
	return e.policy.Timezone
}

// AdvanceNotice returns the minimum lead time before a lesson.
func (e *Engine) AdvanceNotice() time.Duration {
	return e.advanceNotice
}

// Deadline returns the earliest instant a lesson may start, exclusive.
func (e *Engine) Deadline() time.Time {
	return e.clock.Now().Add(e.advanceNotice)
}

// LessonDuration looks up the length of a lesson type.
func (e *Engine) LessonDuration(lessonType LessonType) (time.Duration, error) {
	d, ok := e.lessons[lessonType]
	if !ok || d <= 0 {
		return 0, fmt.Errorf("%w: unknown lesson type %q", ErrInvalidRequest, lessonType)
	}
	return d, nil
}

// GetAvailableSlots lists the bookable slots for lessonType over the next
// daysAhead days, grouped by local day. A nil cfg uses the default policy and
// daysAhead == 0 uses the default window. The caller still has to drop slots
// that are already reserved in its own store.
func (e *Engine) GetAvailableSlots(ctx context.Context, lessonType LessonType, daysAhead int, cfg *Config) ([]DayAvailability, error) {
	duration, err := e.LessonDuration(lessonType)
	if err != nil {
		return nil, err
	}
	if daysAhead < 0 {
		return nil, fmt.Errorf("%w: days ahead must be positive, got %d", ErrInvalidRequest, daysAhead)
	}
	if daysAhead == 0 {
		daysAhead = e.daysAhead
	}

	policy := e.policy
	if cfg != nil {
		policy = *cfg
	}
	loc, err := policy.Validate()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().In(loc)
	deadline := now.Add(e.advanceNotice)

	startDate := localDay(now, 1)
	if d := localDay(deadline, 0); d.After(startDate) {
		startDate = d
	}
	endDate := localDay(now, daysAhead)

	days := []DayAvailability{}
	if !startDate.Before(endDate) {
		return days, nil
	}

	busy, err := e.fetchBusy(ctx, startDate, endDate)
	if err != nil {
		return nil, err
	}

	for day := startDate; day.Before(endDate); day = localDay(day, 1) {
		if !policy.isWorkingDay(day.Weekday()) {
			continue
		}

		var slots []TimeSlot
		for _, slot := range e.candidates(day, policy, loc, duration) {
			if slot.Start.Before(deadline) {
				continue
			}
			if overlapsAny(slot.Start, slot.End, busy) {
				continue
			}
			slots = append(slots, slot)
		}

		if len(slots) > 0 {
			days = append(days, DayAvailability{
				Date:  day.Format("2006-01-02"),
				Slots: slots,
			})
		}
	}

	return days, nil
}

// IsSlotAvailable checks a single start time against the deadline and the
// calendar. A start at or before the deadline is never available.
func (e *Engine) IsSlotAvailable(ctx context.Context, startTime time.Time, lessonType LessonType) (bool, error) {
	duration, err := e.LessonDuration(lessonType)
	if err != nil {
		return false, err
	}
	endTime := startTime.Add(duration)

	if !startTime.After(e.Deadline()) {
		return false, nil
	}

	busy, err := e.fetchBusy(ctx, startTime.Add(-slotCheckMargin), endTime.Add(slotCheckMargin))
	if err != nil {
		return false, err
	}

	return !overlapsAny(startTime, endTime, busy), nil
}

// OnSchedule reports whether startTime is one of the slots the default
// policy generates for its local day. It does not consult the calendar.
func (e *Engine) OnSchedule(startTime time.Time, lessonType LessonType) (bool, error) {
	duration, err := e.LessonDuration(lessonType)
	if err != nil {
		return false, err
	}
	loc, err := e.policy.Validate()
	if err != nil {
		return false, err
	}

	day := localDay(startTime.In(loc), 0)
	if !e.policy.isWorkingDay(day.Weekday()) {
		return false, nil
	}
	for _, slot := range e.candidates(day, e.policy, loc, duration) {
		if slot.Start.Equal(startTime) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) fetchBusy(ctx context.Context, from, to time.Time) ([]BusyPeriod, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	periods, err := e.source.BusyPeriods(ctx, e.calendarID, from.UTC(), to.UTC())
	if err != nil {
		e.logger.Warn("Busy-period lookup failed",
			zap.Time("from", from),
			zap.Time("to", to),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	for _, p := range periods {
		if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
			return nil, fmt.Errorf("%w: malformed busy period %s - %s",
				ErrUpstreamUnavailable, p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
		}
	}

	return periods, nil
}

// candidates generates the day's slots from the working-hours policy,
// stepping by lesson length plus buffer. A slot ending exactly at closing
// time is kept.
func (e *Engine) candidates(day time.Time, policy Config, loc *time.Location, duration time.Duration) []TimeSlot {
	step := duration + time.Duration(policy.BufferMinutes)*time.Minute
	opening := time.Duration(policy.WorkingHours.Start) * time.Hour
	closing := time.Duration(policy.WorkingHours.End) * time.Hour

	var slots []TimeSlot
	for offset := opening; offset+duration <= closing; offset += step {
		start, err := resolveLocal(day, offset, loc)
		if err != nil {
			e.logger.Debug("Skipping candidate slot",
				zap.String("date", day.Format("2006-01-02")),
				zap.Duration("offset", offset),
				zap.Error(err),
			)
			continue
		}
		slots = append(slots, TimeSlot{
			Start:     start.UTC(),
			End:       start.Add(duration).UTC(),
			Formatted: start.Format("3:04 PM"),
		})
	}
	return slots
}

// resolveLocal turns a wall-clock offset from local midnight into an
// instant. Wall times that do not exist or exist twice fail with
// ErrAmbiguousLocalTime.
func resolveLocal(day time.Time, offset time.Duration, loc *time.Location) (time.Time, error) {
	y, m, d := day.Date()
	hour := int(offset / time.Hour)
	minute := int(offset % time.Hour / time.Minute)

	t := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if !sameWallClock(t, y, m, d, hour, minute) {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d is skipped in %s",
			ErrAmbiguousLocalTime, y, m, d, hour, minute, loc)
	}

	_, offsetSec := t.Zone()
	for _, probe := range []time.Duration{-12 * time.Hour, 12 * time.Hour} {
		_, other := t.Add(probe).Zone()
		if other == offsetSec {
			continue
		}
		alt := t.Add(time.Duration(offsetSec-other) * time.Second).In(loc)
		if !alt.Equal(t) && sameWallClock(alt, y, m, d, hour, minute) {
			return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d occurs twice in %s",
				ErrAmbiguousLocalTime, y, m, d, hour, minute, loc)
		}
	}

	return t, nil
}

func sameWallClock(t time.Time, y int, m time.Month, d, hour, minute int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d && t.Hour() == hour && t.Minute() == minute
}

// localDay returns local midnight of t's day shifted by n days.
func localDay(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}

// Overlaps reports whether [start, end) intersects any of periods.
// Touching boundaries do not count.
func Overlaps(start, end time.Time, periods []BusyPeriod) bool {
	return overlapsAny(start, end, periods)
}

func overlapsAny(start, end time.Time, busy []BusyPeriod) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}
