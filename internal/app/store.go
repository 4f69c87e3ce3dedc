package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would break the one-active-booking
	// rules enforced by the database.
	ErrConflict = errors.New("conflict")
)

// Store is the persistence surface used by the handlers and the reminder
// scheduler.
type Store interface {
	Ping(ctx context.Context) error

	GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)

	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateBooking(ctx context.Context, b *Booking) error
	ActiveBookingForStudent(ctx context.Context, studentID uuid.UUID) (*Booking, error)
	// ActiveBookings lists pending and confirmed bookings starting in [from, to).
	ActiveBookings(ctx context.Context, from, to time.Time) ([]Booking, error)
	ListBookingsByStudent(ctx context.Context, studentID uuid.UUID) ([]Booking, error)
	ListBookings(ctx context.Context, status BookingStatus) ([]Booking, error)
	ListFollowUps(ctx context.Context) ([]Booking, error)
	DueReminders(ctx context.Context, from, to time.Time) ([]Booking, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID) error

	ListMessages(ctx context.Context, studentID uuid.UUID, limit int) ([]Message, error)
	CreateMessage(ctx context.Context, m *Message) error
}
