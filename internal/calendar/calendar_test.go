package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

type fakeGoogle struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, body map[string]any)
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	f.mu.Unlock()
	f.handler(w, r, body)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*Client, *fakeGoogle) {
	t.Helper()
	fake := &fakeGoogle{t: t, handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), "primary", nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return client, fake
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestBusyPeriods(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{
			"kind": "calendar#freeBusy",
			"calendars": map[string]any{
				"primary": map[string]any{
					"busy": []map[string]string{
						{"start": "2026-03-04T01:00:00Z", "end": "2026-03-04T02:30:00Z"},
						{"start": "2026-03-05T10:00:00+09:00", "end": "2026-03-05T11:00:00+09:00"},
					},
				},
			},
		})
	})

	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	periods, err := client.BusyPeriods(context.Background(), "", from, to)
	require.NoError(t, err)
	require.Len(t, periods, 2)

	assert.Equal(t, time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC), periods[0].Start)
	assert.Equal(t, time.Date(2026, 3, 4, 2, 30, 0, 0, time.UTC), periods[0].End)
	assert.Equal(t, time.Date(2026, 3, 5, 1, 0, 0, 0, time.UTC), periods[1].Start)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/freeBusy", req.Path)
	assert.Equal(t, "2026-03-04T00:00:00Z", req.Body["timeMin"])
	assert.Equal(t, "2026-03-06T00:00:00Z", req.Body["timeMax"])
	items := req.Body["items"].([]any)
	assert.Equal(t, "primary", items[0].(map[string]any)["id"])
}

func TestBusyPeriods_EmptyIsNotAnError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{
			"calendars": map[string]any{"primary": map[string]any{"busy": []any{}}},
		})
	})

	periods, err := client.BusyPeriods(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestBusyPeriods_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload map[string]any
	}{
		{
			name:   "calendar error",
			status: http.StatusOK,
			payload: map[string]any{"calendars": map[string]any{
				"primary": map[string]any{"errors": []map[string]string{{"domain": "global", "reason": "notFound"}}},
			}},
		},
		{
			name:    "missing calendar",
			status:  http.StatusOK,
			payload: map[string]any{"calendars": map[string]any{}},
		},
		{
			name:   "bad timestamp",
			status: http.StatusOK,
			payload: map[string]any{"calendars": map[string]any{
				"primary": map[string]any{"busy": []map[string]string{{"start": "tomorrow", "end": "2026-03-04T02:30:00Z"}}},
			}},
		},
		{
			name:    "server error",
			status:  http.StatusServiceUnavailable,
			payload: map[string]any{"error": map[string]any{"code": 503, "message": "backend error"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
				writeJSON(w, tt.status, tt.payload)
			})
			periods, err := client.BusyPeriods(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
			assert.Error(t, err)
			assert.Nil(t, periods)
		})
	}
}

func TestCreateLessonEvent_WithMeet(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "evt-1",
			"conferenceData": map[string]any{
				"entryPoints": []map[string]string{
					{"entryPointType": "phone", "uri": "tel:+1-555"},
					{"entryPointType": "video", "uri": "https://meet.google.com/abc-defg-hij"},
				},
			},
		})
	})

	start := time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)
	res, err := client.CreateLessonEvent(context.Background(), LessonEvent{
		BookingID: "b-1",
		Summary:   "Response Practice - Ada",
		Start:     start,
		End:       start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", res.EventID)
	assert.Equal(t, "https://meet.google.com/abc-defg-hij", res.MeetLink)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "/calendars/primary/events", req.Path)
	assert.Contains(t, req.Query, "conferenceDataVersion=1")
	conf := req.Body["conferenceData"].(map[string]any)["createRequest"].(map[string]any)
	assert.Equal(t, "b-1", conf["requestId"])
	reminders := req.Body["reminders"].(map[string]any)
	assert.Equal(t, false, reminders["useDefault"])
	assert.Equal(t, "2026-03-04T01:00:00Z", req.Body["start"].(map[string]any)["dateTime"])
}

func TestCreateLessonEvent_FallsBackWithoutConference(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		if _, ok := body["conferenceData"]; ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": 400, "message": "Invalid conference type value."}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "evt-basic"})
	})

	start := time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)
	res, err := client.CreateLessonEvent(context.Background(), LessonEvent{BookingID: "b-2", Start: start, End: start.Add(15 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "evt-basic", res.EventID)
	assert.Empty(t, res.MeetLink)
	assert.Len(t, fake.requests, 2)
	assert.Contains(t, fake.requests[1].Body["description"], "add a meeting link manually")
}

func TestCreateLessonEvent_TransientIsNotMasked(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": 500, "message": "backend"}})
	})

	start := time.Now().Add(72 * time.Hour)
	_, err := client.CreateLessonEvent(context.Background(), LessonEvent{BookingID: "b-3", Start: start, End: start.Add(time.Hour)})
	require.Error(t, err)
	assert.True(t, Transient(err))
	assert.Len(t, fake.requests, 1)
}

func TestCancelEvent(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			w.WriteHeader(http.StatusNoContent)
		})
		require.NoError(t, client.CancelEvent(context.Background(), "evt-1"))
		assert.Equal(t, http.MethodDelete, fake.requests[0].Method)
		assert.Equal(t, "/calendars/primary/events/evt-1", fake.requests[0].Path)
	})

	t.Run("already gone", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			writeJSON(w, http.StatusGone, map[string]any{"error": map[string]any{"code": 410, "message": "Resource has been deleted"}})
		})
		assert.NoError(t, client.CancelEvent(context.Background(), "evt-1"))
	})

	t.Run("forbidden", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request, body map[string]any) {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": map[string]any{"code": 403, "message": "forbidden"}})
		})
		err := client.CancelEvent(context.Background(), "evt-1")
		require.Error(t, err)
		assert.False(t, Transient(err))
	})
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.True(t, Transient(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.True(t, Transient(&googleapi.Error{Code: http.StatusBadGateway}))
	assert.False(t, Transient(&googleapi.Error{Code: http.StatusBadRequest}))
	assert.True(t, Transient(context.DeadlineExceeded))
	assert.False(t, Transient(context.Canceled))
	assert.False(t, Transient(errors.New("boom")))
	assert.False(t, Transient(ErrNotConfigured))
}

func TestDisabled(t *testing.T) {
	var d Disabled
	_, err := d.BusyPeriods(context.Background(), "primary", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = d.CreateLessonEvent(context.Background(), LessonEvent{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, d.CancelEvent(context.Background(), "x"), ErrNotConfigured)
}

func TestNewFromServiceAccount_RequiresCredentials(t *testing.T) {
	_, err := NewFromServiceAccount(context.Background(), ServiceAccountConfig{CalendarID: "primary"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewFromServiceAccount(context.Background(), ServiceAccountConfig{KeyJSON: []byte("{"), CalendarID: "primary"}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}
