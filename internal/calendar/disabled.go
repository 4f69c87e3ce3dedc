package calendar

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"

	"tutoring-scheduler/internal/availability"
)

// Disabled stands in for the client when credentials are missing. Every call
// fails, so availability is reported as unavailable rather than empty.
type Disabled struct{}

func (Disabled) BusyPeriods(context.Context, string, time.Time, time.Time) ([]availability.BusyPeriod, error) {
	return nil, ErrNotConfigured
}

func (Disabled) CreateLessonEvent(context.Context, LessonEvent) (*EventResult, error) {
	return nil, ErrNotConfigured
}

func (Disabled) CancelEvent(context.Context, string) error {
	return ErrNotConfigured
}

// Transient reports whether err is worth retrying: rate limits, server
// errors, timeouts and network failures.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
