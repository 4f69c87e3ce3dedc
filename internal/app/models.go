package app

import (
	"time"

	"github.com/google/uuid"

	"tutoring-scheduler/internal/availability"
)

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

type SubscriptionPlan string

const (
	PlanBasic   SubscriptionPlan = "basic"
	PlanPremium SubscriptionPlan = "premium"
)

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Active reports whether the booking still holds its slot.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCompleted, BookingStatusCancelled:
		return true
	}
	return false
}

// bookingTransitions lists the status changes an admin may apply.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MaxMessageLength bounds a single chat message.
const MaxMessageLength = 5000

type Profile struct {
	ID               uuid.UUID        `json:"id"`
	Email            string           `json:"email"`
	FullName         *string          `json:"full_name,omitempty"`
	Role             Role             `json:"role"`
	SubscriptionPlan SubscriptionPlan `json:"subscription_plan"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DisplayName prefers the full name and falls back to the email.
func (p *Profile) DisplayName() string {
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	return p.Email
}

type Booking struct {
	ID                 uuid.UUID               `json:"id"`
	StudentID          uuid.UUID               `json:"student_id"`
	InstructorID       *uuid.UUID              `json:"instructor_id,omitempty"`
	LessonType         availability.LessonType `json:"lesson_type"`
	Status             BookingStatus           `json:"status"`
	ScheduledAt        time.Time               `json:"scheduled_at"`
	CalendarEventID    *string                 `json:"calendar_event_id,omitempty"`
	VideoLink          *string                 `json:"video_link,omitempty"`
	Notes              *string                 `json:"notes,omitempty"`
	CancellationReason *string                 `json:"cancellation_reason,omitempty"`
	ReminderSent       bool                    `json:"reminder_sent"`
	NeedsFollowUp      bool                    `json:"needs_follow_up"`
	FollowUpReason     *string                 `json:"follow_up_reason,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

type Message struct {
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func strPtr(s string) *string { return &s }
