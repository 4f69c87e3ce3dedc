package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultReminderInterval = time.Hour

	reminderWindowStart = 23 * time.Hour
	reminderWindowEnd   = 25 * time.Hour
)

// ReminderScheduler sends a reminder about every confirmed lesson starting
// in roughly a day.
type ReminderScheduler struct {
	app      *App
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewReminderScheduler(app *App, interval time.Duration) *ReminderScheduler {
	if interval <= 0 {
		interval = DefaultReminderInterval
	}
	return &ReminderScheduler{
		app:      app,
		interval: interval,
		logger:   app.Logger.Named("reminders"),
		stopChan: make(chan struct{}),
	}
}

func (s *ReminderScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting reminder scheduler", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop ends the loop. Calling it more than once is safe.
func (s *ReminderScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping reminder scheduler")
		close(s.stopChan)
	})
}

func (s *ReminderScheduler) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("Reminder task stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Reminder task cancelled")
			return
		}
	}
}

// RunOnce sends the reminders that are due now and returns how many were
// delivered. Failed bookings stay unmarked and are retried on the next run.
func (s *ReminderScheduler) RunOnce(ctx context.Context) int {
	now := s.app.now()
	due, err := s.app.Store.DueReminders(ctx, now.Add(reminderWindowStart), now.Add(reminderWindowEnd))
	if err != nil {
		s.logger.Error("Failed to load due reminders", zap.Error(err))
		return 0
	}

	sent := 0
	for i := range due {
		b := &due[i]
		if err := s.remind(ctx, b); err != nil {
			s.logger.Error("Failed to send reminder",
				zap.String("booking_id", b.ID.String()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	if len(due) > 0 {
		s.logger.Info("Reminders processed", zap.Int("due", len(due)), zap.Int("sent", sent))
	}
	return sent
}

func (s *ReminderScheduler) remind(ctx context.Context, b *Booking) error {
	student, err := s.app.Store.GetProfile(ctx, b.StudentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.app.Notifier.LessonReminder(ctx, s.app.notice(b, student)); err != nil {
		return err
	}
	return s.app.Store.MarkReminderSent(ctx, b.ID)
}
