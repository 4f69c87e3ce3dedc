package calendar

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"

	"tutoring-scheduler/internal/availability"
)

// BusyPeriods runs a free/busy query for [from, to). Per-calendar errors
// reported by Google and unparsable periods are returned as errors so that
// callers never mistake them for a free calendar.
func (c *Client) BusyPeriods(ctx context.Context, calendarID string, from, to time.Time) ([]availability.BusyPeriod, error) {
	calendarID = c.resolve(calendarID)

	resp, err := c.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("query free/busy: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, fmt.Errorf("calendar %q missing from free/busy response", calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("free/busy for %q: %s", calendarID, cal.Errors[0].Reason)
	}

	periods := make([]availability.BusyPeriod, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", p.Start, err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", p.End, err)
		}
		periods = append(periods, availability.BusyPeriod{Start: start.UTC(), End: end.UTC()})
	}

	c.logger.Debug("Fetched busy periods",
		zap.String("calendar_id", calendarID),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("count", len(periods)),
	)

	return periods, nil
}
