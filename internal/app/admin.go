package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type updateBookingRequest struct {
	Status             *BookingStatus `json:"status"`
	InstructorID       *uuid.UUID     `json:"instructor_id"`
	VideoLink          *string        `json:"video_link"`
	Notes              *string        `json:"notes"`
	CancellationReason *string        `json:"cancellation_reason"`
}

// GET /api/admin/bookings?status=
func (a *App) AdminListBookingsHandler(c *gin.Context) {
	status := BookingStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", status)})
		return
	}

	bookings, err := a.Store.ListBookings(c.Request.Context(), status)
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

// PATCH /api/admin/bookings/:id
// Confirming creates the calendar event; cancelling removes it.
func (a *App) AdminUpdateBookingHandler(c *gin.Context) {
	var req updateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, ok := a.loadBooking(c)
	if !ok {
		return
	}

	next := b.Status
	if req.Status != nil && *req.Status != b.Status {
		next = *req.Status
		if !next.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", next)})
			return
		}
		if !b.Status.CanTransitionTo(next) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("cannot change status from %s to %s", b.Status, next)})
			return
		}
	}

	ctx := c.Request.Context()
	student, err := a.Store.GetProfile(ctx, b.StudentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		a.Logger.Error("Failed to load student profile", zap.String("booking_id", b.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load student"})
		return
	}
	if student == nil {
		student = &Profile{ID: b.StudentID, Email: "unknown student"}
	}

	if req.InstructorID != nil {
		b.InstructorID = req.InstructorID
	}
	if req.VideoLink != nil {
		b.VideoLink = req.VideoLink
	}
	if req.Notes != nil {
		b.Notes = req.Notes
	}
	if req.CancellationReason != nil {
		b.CancellationReason = req.CancellationReason
	}

	reasonBefore := followUpReason(b)
	var created, removed string
	if next != b.Status {
		switch next {
		case BookingStatusConfirmed:
			created = a.scheduleLesson(ctx, b, student)
		case BookingStatusCancelled:
			removed = a.unscheduleLesson(ctx, b)
		}
		b.Status = next
	}

	if err := a.Store.UpdateBooking(ctx, b); err != nil {
		a.recoverUnsavedBooking(ctx, b, student, created, removed, err)
		if errors.Is(err, ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "update conflicts with another active booking"})
			return
		}
		a.Logger.Error("Failed to update booking", zap.String("booking_id", b.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update booking"})
		return
	}
	if followUpReason(b) != reasonBefore && b.NeedsFollowUp {
		a.notifyFollowUp(ctx, b, student)
	}

	a.Logger.Info("Booking updated",
		zap.String("booking_id", b.ID.String()),
		zap.String("status", string(b.Status)),
		zap.Bool("needs_follow_up", b.NeedsFollowUp),
	)
	c.JSON(http.StatusOK, b)
}

// GET /api/admin/users
func (a *App) AdminListUsersHandler(c *gin.Context) {
	profiles, err := a.Store.ListProfiles(c.Request.Context())
	if err != nil {
		a.Logger.Error("Failed to list users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	if profiles == nil {
		profiles = []Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

// GET /api/admin/follow-ups
func (a *App) AdminListFollowUpsHandler(c *gin.Context) {
	bookings, err := a.Store.ListFollowUps(c.Request.Context())
	if err != nil {
		a.Logger.Error("Failed to list follow-ups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list follow-ups"})
		return
	}
	if bookings == nil {
		bookings = []Booking{}
	}
	c.JSON(http.StatusOK, bookings)
}

// POST /api/admin/follow-ups/:id/resolve
func (a *App) AdminResolveFollowUpHandler(c *gin.Context) {
	b, ok := a.loadBooking(c)
	if !ok {
		return
	}
	if !b.NeedsFollowUp {
		c.JSON(http.StatusOK, b)
		return
	}

	b.NeedsFollowUp = false
	b.FollowUpReason = nil
	if err := a.Store.UpdateBooking(c.Request.Context(), b); err != nil {
		a.Logger.Error("Failed to resolve follow-up", zap.String("booking_id", b.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve follow-up"})
		return
	}

	a.Logger.Info("Follow-up resolved",
		zap.String("booking_id", b.ID.String()),
		zap.String("admin_id", currentProfile(c).ID.String()),
	)
	c.JSON(http.StatusOK, b)
}
