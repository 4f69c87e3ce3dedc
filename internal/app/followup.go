package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"tutoring-scheduler/internal/calendar"
	"tutoring-scheduler/internal/notify"
)

// RetryPolicy bounds the retries of calendar side effects.
type RetryPolicy struct {
	Base       time.Duration
	MaxRetries uint64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 200 * time.Millisecond, MaxRetries: 3}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy().Base
	}
	return retry.WithMaxRetries(p.MaxRetries, retry.NewExponential(base))
}

// withRetry runs fn, retrying only failures calendar.Transient accepts.
func (a *App) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, a.Retry.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if calendar.Transient(err) {
			a.Logger.Warn("Calendar call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
}

// scheduleLesson creates the calendar event of a booking being confirmed and
// stores its id and meeting link on b. Failures flag b for follow-up instead
// of blocking the confirmation. It returns the id of the event it created, if
// any. A booking that already carries an event keeps it.
func (a *App) scheduleLesson(ctx context.Context, b *Booking, student *Profile) string {
	if b.CalendarEventID != nil && *b.CalendarEventID != "" {
		a.Logger.Info("Booking already has a calendar event",
			zap.String("booking_id", b.ID.String()),
			zap.String("event_id", *b.CalendarEventID),
		)
		return ""
	}

	duration, err := a.Engine.LessonDuration(b.LessonType)
	if err != nil {
		a.markFollowUp(b, "unknown lesson type, no calendar event created", err)
		return ""
	}

	ev := calendar.LessonEvent{
		BookingID:   b.ID.String(),
		Summary:     fmt.Sprintf("%s - %s", b.LessonType.Label(), student.DisplayName()),
		Description: lessonDescription(b, student),
		Start:       b.ScheduledAt,
		End:         b.ScheduledAt.Add(duration),
	}

	var res *calendar.EventResult
	err = a.withRetry(ctx, "create event", func(ctx context.Context) error {
		r, err := a.Events.CreateLessonEvent(ctx, ev)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		a.markFollowUp(b, "calendar event could not be created", err)
		return ""
	}

	b.CalendarEventID = strPtr(res.EventID)
	if res.MeetLink != "" {
		b.VideoLink = strPtr(res.MeetLink)
		return res.EventID
	}
	if b.VideoLink == nil || *b.VideoLink == "" {
		a.markFollowUp(b, "calendar event has no meeting link", nil)
	}
	return res.EventID
}

// unscheduleLesson removes the calendar event of a booking being cancelled
// and returns the id of the event it removed, if any.
func (a *App) unscheduleLesson(ctx context.Context, b *Booking) string {
	if b.CalendarEventID == nil || *b.CalendarEventID == "" {
		return ""
	}
	eventID := *b.CalendarEventID
	if err := a.cancelEvent(ctx, eventID); err != nil {
		a.markFollowUp(b, "calendar event "+eventID+" could not be removed", err)
		return ""
	}
	return eventID
}

func (a *App) cancelEvent(ctx context.Context, eventID string) error {
	return a.withRetry(ctx, "cancel event", func(ctx context.Context) error {
		return a.Events.CancelEvent(ctx, eventID)
	})
}

// recoverUnsavedBooking runs when writing b failed after the calendar had
// already been changed for it. An event created for b is removed again.
// Whatever cannot be undone is flagged on the stored booking and reported
// to admins.
func (a *App) recoverUnsavedBooking(ctx context.Context, b *Booking, student *Profile, created, removed string, cause error) {
	var reason string
	switch {
	case created != "":
		if err := a.cancelEvent(ctx, created); err == nil {
			a.Logger.Warn("Removed calendar event of unsaved booking",
				zap.String("booking_id", b.ID.String()),
				zap.String("event_id", created),
				zap.NamedError("cause", cause),
			)
			return
		}
		reason = "calendar event " + created + " was created but the booking could not be saved"
	case removed != "":
		reason = "calendar event " + removed + " was removed but the booking could not be saved"
	default:
		return
	}

	target := b
	stored, err := a.Store.GetBooking(ctx, b.ID)
	if err == nil {
		target = stored
		if created != "" {
			target.CalendarEventID = strPtr(created)
		} else {
			target.CalendarEventID = nil
		}
	}
	a.markFollowUp(target, reason, cause)
	if target != b {
		if err := a.Store.UpdateBooking(ctx, target); err != nil {
			a.Logger.Error("Failed to record follow-up",
				zap.String("booking_id", b.ID.String()),
				zap.Error(err),
			)
		}
	}
	a.notifyFollowUp(ctx, target, student)
}

// markFollowUp flags b for manual attention. The caller persists b and then
// calls notifyFollowUp.
func (a *App) markFollowUp(b *Booking, reason string, cause error) {
	if b.NeedsFollowUp && b.FollowUpReason != nil && *b.FollowUpReason != "" &&
		!strings.Contains(*b.FollowUpReason, reason) {
		reason = *b.FollowUpReason + "; " + reason
	}
	b.NeedsFollowUp = true
	b.FollowUpReason = strPtr(reason)

	fields := []zap.Field{
		zap.String("booking_id", b.ID.String()),
		zap.String("reason", reason),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	a.Logger.Error("Booking needs follow-up", fields...)
}

func (a *App) notifyFollowUp(ctx context.Context, b *Booking, student *Profile) {
	n := a.notice(b, student)
	if b.FollowUpReason != nil {
		n.Reason = *b.FollowUpReason
	}
	if err := a.Notifier.FollowUpNeeded(ctx, n); err != nil {
		a.Logger.Error("Failed to notify admins of follow-up",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
	}
}

func (a *App) notice(b *Booking, student *Profile) notify.Notice {
	n := notify.Notice{
		BookingID:   b.ID.String(),
		Lesson:      b.LessonType.Label(),
		ScheduledAt: b.ScheduledAt,
	}
	if loc, err := time.LoadLocation(a.Engine.InstructorTimezone()); err == nil {
		n.ScheduledAt = b.ScheduledAt.In(loc)
	}
	if d, err := a.Engine.LessonDuration(b.LessonType); err == nil {
		n.Lesson = fmt.Sprintf("%s (%d min)", n.Lesson, int(d.Minutes()))
	}
	if student != nil {
		n.StudentName = student.DisplayName()
	}
	if b.VideoLink != nil {
		n.VideoLink = *b.VideoLink
	}
	return n
}

func lessonDescription(b *Booking, student *Profile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lesson: %s\n", b.LessonType.Label())
	fmt.Fprintf(&sb, "Student: %s <%s>\n", student.DisplayName(), student.Email)
	fmt.Fprintf(&sb, "Booking ID: %s\n", b.ID)
	if b.Notes != nil && *b.Notes != "" {
		fmt.Fprintf(&sb, "Notes: %s\n", *b.Notes)
	}
	return sb.String()
}
