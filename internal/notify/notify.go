package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notice describes one booking event sent to the admins.
type Notice struct {
	BookingID   string
	StudentName string
	Lesson      string
	ScheduledAt time.Time
	VideoLink   string
	Reason      string
}

// Notifier delivers booking events to the people running the schedule.
type Notifier interface {
	BookingRequested(ctx context.Context, n Notice) error
	FollowUpNeeded(ctx context.Context, n Notice) error
	LessonReminder(ctx context.Context, n Notice) error
}

// Log is the notifier used when no chat transport is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) BookingRequested(_ context.Context, n Notice) error {
	l.logger.Info("Booking requested", n.fields()...)
	return nil
}

func (l *Log) FollowUpNeeded(_ context.Context, n Notice) error {
	l.logger.Warn("Booking needs follow-up", n.fields()...)
	return nil
}

func (l *Log) LessonReminder(_ context.Context, n Notice) error {
	l.logger.Info("Lesson reminder", n.fields()...)
	return nil
}

func (n Notice) fields() []zap.Field {
	fields := []zap.Field{
		zap.String("booking_id", n.BookingID),
		zap.String("student", n.StudentName),
		zap.String("lesson", n.Lesson),
		zap.Time("scheduled_at", n.ScheduledAt),
	}
	if n.VideoLink != "" {
		fields = append(fields, zap.String("video_link", n.VideoLink))
	}
	if n.Reason != "" {
		fields = append(fields, zap.String("reason", n.Reason))
	}
	return fields
}
