package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// LessonEvent describes the calendar entry created for a confirmed booking.
type LessonEvent struct {
	BookingID   string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// EventResult carries what the booking needs to remember about the event.
// MeetLink is empty when the conference could not be attached.
type EventResult struct {
	EventID  string
	MeetLink string
}

// CreateLessonEvent inserts the lesson with a Google Meet conference. If
// Google rejects the conference request the event is inserted again without
// one, so the slot is still blocked on the instructor's calendar. Transient
// failures are returned as is and left to the caller's retry policy.
func (c *Client) CreateLessonEvent(ctx context.Context, ev LessonEvent) (*EventResult, error) {
	event := buildEvent(ev)
	event.ConferenceData = &gcal.ConferenceData{
		CreateRequest: &gcal.CreateConferenceRequest{
			RequestId:             ev.BookingID,
			ConferenceSolutionKey: &gcal.ConferenceSolutionKey{Type: "hangoutsMeet"},
		},
	}

	created, err := c.svc.Events.Insert(c.calendarID, event).
		ConferenceDataVersion(1).
		Context(ctx).
		Do()
	if err == nil {
		return eventResult(created), nil
	}
	if ctx.Err() != nil || Transient(err) {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}

	c.logger.Warn("Conference creation failed, inserting event without Meet link",
		zap.String("booking_id", ev.BookingID),
		zap.Error(err),
	)

	basic := buildEvent(ev)
	basic.Description += "\n\nNote: add a meeting link manually."
	created, err = c.svc.Events.Insert(c.calendarID, basic).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert calendar event: %w", err)
	}
	return eventResult(created), nil
}

// CancelEvent deletes an event. An event that is already gone counts as
// cancelled.
func (c *Client) CancelEvent(ctx context.Context, eventID string) error {
	err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		c.logger.Info("Calendar event already removed", zap.String("event_id", eventID))
		return nil
	}
	return fmt.Errorf("delete calendar event %s: %w", eventID, err)
}

func buildEvent(ev LessonEvent) *gcal.Event {
	return &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		Reminders: &gcal.EventReminders{
			UseDefault: false,
			Overrides: []*gcal.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 30},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
}

func eventResult(e *gcal.Event) *EventResult {
	res := &EventResult{EventID: e.Id, MeetLink: e.HangoutLink}
	if e.ConferenceData != nil {
		for _, ep := range e.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" && ep.Uri != "" {
				res.MeetLink = ep.Uri
				break
			}
		}
	}
	return res
}
