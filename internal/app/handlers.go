package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tutoring-scheduler/internal/availability"
)

type eligibility struct {
	CanBook       bool     `json:"can_book"`
	Reason        string   `json:"reason,omitempty"`
	ActiveBooking *Booking `json:"active_booking,omitempty"`

	status int
}

type createBookingRequest struct {
	LessonType  availability.LessonType `json:"lesson_type" binding:"required"`
	ScheduledAt time.Time               `json:"scheduled_at" binding:"required"`
	Notes       *string                 `json:"notes"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

// GET /api/availability?lesson_type=
func (a *App) AvailabilityHandler(c *gin.Context) {
	ctx := c.Request.Context()
	lessonType := availability.LessonType(c.Query("lesson_type"))

	days, err := a.Engine.GetAvailableSlots(ctx, lessonType, 0, nil)
	if err != nil {
		a.respondEngineError(c, err)
		return
	}

	days, err = a.dropReserved(ctx, days)
	if err != nil {
		a.Logger.Error("Failed to load reserved slots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bookings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"availability": days,
		"timezone":     a.Engine.InstructorTimezone(),
	})
}

// GET /api/bookings/eligibility?lesson_type=
func (a *App) EligibilityHandler(c *gin.Context) {
	lessonType := availability.LessonType(c.Query("lesson_type"))
	if lessonType != "" && !lessonType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown lesson type %q", lessonType)})
		return
	}

	e, err := a.checkEligibility(c.Request.Context(), currentProfile(c), lessonType)
	if err != nil {
		a.Logger.Error("Eligibility check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check eligibility"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// POST /api/bookings
func (a *App) CreateBookingHandler(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.LessonType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown lesson type %q", req.LessonType)})
		return
	}
	if !req.ScheduledAt.After(a.Engine.Deadline()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf(
			"bookings must be made at least %d hours in advance", int(a.Engine.AdvanceNotice().Hours()))})
		return
	}

	onSchedule, err := a.Engine.OnSchedule(req.ScheduledAt, req.LessonType)
	if err != nil {
		a.respondEngineError(c, err)
		return
	}
	if !onSchedule {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_at must be one of the offered time slots"})
		return
	}

	ctx := c.Request.Context()
	student := currentProfile(c)

	e, err := a.checkEligibility(ctx, student, req.LessonType)
	if err != nil {
		a.Logger.Error("Eligibility check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check eligibility"})
		return
	}
	if !e.CanBook {
		c.JSON(e.status, gin.H{"error": e.Reason})
		return
	}

	ok, err := a.Engine.IsSlotAvailable(ctx, req.ScheduledAt, req.LessonType)
	if err != nil {
		a.respondEngineError(c, err)
		return
	}
	if ok {
		ok, err = a.slotUnreserved(ctx, req.ScheduledAt, req.LessonType)
		if err != nil {
			a.Logger.Error("Failed to check reserved slots", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check availability"})
			return
		}
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "this time slot is no longer available, please select a different time"})
		return
	}

	b := &Booking{
		ID:          uuid.New(),
		StudentID:   student.ID,
		LessonType:  req.LessonType,
		Status:      BookingStatusPending,
		ScheduledAt: req.ScheduledAt.UTC(),
		Notes:       req.Notes,
	}
	if err := a.Store.CreateBooking(ctx, b); err != nil {
		if errors.Is(err, ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "this time slot or your active booking conflicts with an existing booking"})
			return
		}
		a.Logger.Error("Failed to create booking", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create booking"})
		return
	}

	a.Logger.Info("Booking requested",
		zap.String("booking_id", b.ID.String()),
		zap.String("student_id", student.ID.String()),
		zap.Time("scheduled_at", b.ScheduledAt),
	)
	if err := a.Notifier.BookingRequested(ctx, a.notice(b, student)); err != nil {
		a.Logger.Error("Failed to notify admins of booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
	}

	c.JSON(http.StatusCreated, b)
}

// GET /api/bookings
func (a *App) ListBookingsHandler(c *gin.Context) {
	bookings, err := a.Store.ListBookingsByStudent(c.Request.Context(), currentProfile(c).ID)
	if err != nil {
		a.Logger.Error("Failed to list bookings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bookings"})
		return
	}
	if bookings == nil {
		bookings = []Booking{}
	}
	c.JSON(http.StatusOK, bookings)
}

// GET /api/bookings/:id
func (a *App) GetBookingHandler(c *gin.Context) {
	b, ok := a.loadBooking(c)
	if !ok {
		return
	}
	p := currentProfile(c)
	if b.StudentID != p.ID && p.Role != RoleAdmin {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// POST /api/bookings/:id/cancel
func (a *App) CancelBookingHandler(c *gin.Context) {
	var req cancelBookingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	b, ok := a.loadBooking(c)
	if !ok {
		return
	}
	student := currentProfile(c)
	if b.StudentID != student.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return
	}
	switch b.Status {
	case BookingStatusCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": "this booking is already cancelled"})
		return
	case BookingStatusCompleted:
		c.JSON(http.StatusConflict, gin.H{"error": "cannot cancel a completed booking"})
		return
	}

	ctx := c.Request.Context()
	reasonBefore := followUpReason(b)

	removed := a.unscheduleLesson(ctx, b)
	b.Status = BookingStatusCancelled
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		b.CancellationReason = strPtr(reason)
	}

	if err := a.Store.UpdateBooking(ctx, b); err != nil {
		a.recoverUnsavedBooking(ctx, b, student, "", removed, err)
		a.Logger.Error("Failed to cancel booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel booking"})
		return
	}
	if followUpReason(b) != reasonBefore {
		a.notifyFollowUp(ctx, b, student)
	}

	a.Logger.Info("Booking cancelled by student", zap.String("booking_id", b.ID.String()))
	c.JSON(http.StatusOK, b)
}

// checkEligibility applies the plan and one-active-booking rules. An empty
// lessonType skips the plan check.
func (a *App) checkEligibility(ctx context.Context, p *Profile, lessonType availability.LessonType) (eligibility, error) {
	if lessonType == availability.LessonMicroResponsePractice && p.SubscriptionPlan != PlanPremium {
		return eligibility{
			Reason: "Micro Response Practice is only available for Premium plan subscribers",
			status: http.StatusForbidden,
		}, nil
	}

	active, err := a.Store.ActiveBookingForStudent(ctx, p.ID)
	if err != nil {
		return eligibility{}, err
	}
	if active != nil {
		return eligibility{
			Reason:        "you already have an active booking, complete or cancel it before scheduling a new one",
			ActiveBooking: active,
			status:        http.StatusConflict,
		}, nil
	}

	return eligibility{CanBook: true, status: http.StatusOK}, nil
}

// dropReserved removes slots that overlap a pending or confirmed booking.
// Days left without slots are dropped.
func (a *App) dropReserved(ctx context.Context, days []availability.DayAvailability) ([]availability.DayAvailability, error) {
	if len(days) == 0 {
		return days, nil
	}
	first := days[0].Slots[0].Start
	lastDay := days[len(days)-1]
	last := lastDay.Slots[len(lastDay.Slots)-1].End

	reserved, err := a.reservedPeriods(ctx, first, last)
	if err != nil {
		return nil, err
	}
	if len(reserved) == 0 {
		return days, nil
	}

	out := make([]availability.DayAvailability, 0, len(days))
	for _, day := range days {
		var slots []availability.TimeSlot
		for _, s := range day.Slots {
			if !availability.Overlaps(s.Start, s.End, reserved) {
				slots = append(slots, s)
			}
		}
		if len(slots) > 0 {
			out = append(out, availability.DayAvailability{Date: day.Date, Slots: slots})
		}
	}
	return out, nil
}

// slotUnreserved reports whether a lesson at start overlaps no active booking.
func (a *App) slotUnreserved(ctx context.Context, start time.Time, lessonType availability.LessonType) (bool, error) {
	d, err := a.Engine.LessonDuration(lessonType)
	if err != nil {
		return false, err
	}
	end := start.Add(d)
	reserved, err := a.reservedPeriods(ctx, start, end)
	if err != nil {
		return false, err
	}
	return !availability.Overlaps(start, end, reserved), nil
}

// reservedPeriods returns the intervals held by active bookings that may
// overlap [from, to).
func (a *App) reservedPeriods(ctx context.Context, from, to time.Time) ([]availability.BusyPeriod, error) {
	var longest time.Duration
	for lt := range availability.DefaultLessonDurations {
		if d, err := a.Engine.LessonDuration(lt); err == nil && d > longest {
			longest = d
		}
	}

	bookings, err := a.Store.ActiveBookings(ctx, from.Add(-longest), to)
	if err != nil {
		return nil, err
	}
	periods := make([]availability.BusyPeriod, 0, len(bookings))
	for _, b := range bookings {
		d, err := a.Engine.LessonDuration(b.LessonType)
		if err != nil {
			d = longest
		}
		periods = append(periods, availability.BusyPeriod{Start: b.ScheduledAt, End: b.ScheduledAt.Add(d)})
	}
	return periods, nil
}

func (a *App) respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, availability.ErrUpstreamUnavailable):
		a.Logger.Warn("Calendar unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "calendar is temporarily unavailable, please try again later"})
	case errors.Is(err, availability.ErrInvalidConfiguration):
		a.Logger.Error("Availability policy is invalid", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "availability is misconfigured"})
	default:
		a.Logger.Error("Availability lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute availability"})
	}
}

// loadBooking resolves the :id parameter. It writes the error response
// itself and reports whether the handler may continue.
func (a *App) loadBooking(c *gin.Context) (*Booking, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return nil, false
	}
	b, err := a.Store.GetBooking(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found"})
		return nil, false
	}
	if err != nil {
		a.Logger.Error("Failed to load booking", zap.String("booking_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load booking"})
		return nil, false
	}
	return b, true
}

func followUpReason(b *Booking) string {
	if !b.NeedsFollowUp || b.FollowUpReason == nil {
		return ""
	}
	return *b.FollowUpReason
}
