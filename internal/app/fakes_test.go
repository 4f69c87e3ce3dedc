package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tutoring-scheduler/internal/availability"
	"tutoring-scheduler/internal/calendar"
	"tutoring-scheduler/internal/notify"
)

var testSecret = []byte("test-secret")

// Monday 2026-03-02 09:00 in Tokyo.
var testNow = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type memStore struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*Profile
	bookings map[uuid.UUID]*Booking
	messages []Message
	pingErr  error

	// failUpdates makes the next n UpdateBooking calls fail with errDBDown.
	failUpdates int
}

var errDBDown = errors.New("connection reset by peer")

func newMemStore() *memStore {
	return &memStore{
		profiles: map[uuid.UUID]*Profile{},
		bookings: map[uuid.UUID]*Booking{},
	}
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }

func (s *memStore) GetProfile(_ context.Context, id uuid.UUID) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ListProfiles(context.Context) ([]Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Profile
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func (s *memStore) CreateBooking(_ context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkActiveLocked(b); err != nil {
		return err
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt, b.UpdatedAt = testNow, testNow
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *memStore) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) UpdateBooking(_ context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return errDBDown
	}
	if _, ok := s.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	if err := s.checkActiveLocked(b); err != nil {
		return err
	}
	cp := *b
	s.bookings[b.ID] = &cp
	return nil
}

// checkActiveLocked mirrors the partial unique indexes of the schema.
func (s *memStore) checkActiveLocked(b *Booking) error {
	if !b.Status.Active() {
		return nil
	}
	for id, other := range s.bookings {
		if id == b.ID || !other.Status.Active() {
			continue
		}
		if other.StudentID == b.StudentID || other.ScheduledAt.Equal(b.ScheduledAt) {
			return ErrConflict
		}
	}
	return nil
}

func (s *memStore) ActiveBookingForStudent(_ context.Context, studentID uuid.UUID) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.StudentID == studentID && b.Status.Active() {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ActiveBookings(_ context.Context, from, to time.Time) ([]Booking, error) {
	return s.filter(func(b *Booking) bool {
		return b.Status.Active() && !b.ScheduledAt.Before(from) && b.ScheduledAt.Before(to)
	}), nil
}

func (s *memStore) ListBookingsByStudent(_ context.Context, studentID uuid.UUID) ([]Booking, error) {
	return s.filter(func(b *Booking) bool { return b.StudentID == studentID }), nil
}

func (s *memStore) ListBookings(_ context.Context, status BookingStatus) ([]Booking, error) {
	return s.filter(func(b *Booking) bool { return status == "" || b.Status == status }), nil
}

func (s *memStore) ListFollowUps(context.Context) ([]Booking, error) {
	return s.filter(func(b *Booking) bool { return b.NeedsFollowUp }), nil
}

func (s *memStore) DueReminders(_ context.Context, from, to time.Time) ([]Booking, error) {
	return s.filter(func(b *Booking) bool {
		return b.Status == BookingStatusConfirmed && !b.ReminderSent &&
			!b.ScheduledAt.Before(from) && !b.ScheduledAt.After(to)
	}), nil
}

func (s *memStore) MarkReminderSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.ReminderSent = true
	return nil
}

func (s *memStore) ListMessages(_ context.Context, studentID uuid.UUID, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.StudentID == studentID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) CreateMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = testNow
	s.messages = append(s.messages, *m)
	return nil
}

func (s *memStore) filter(keep func(*Booking) bool) []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return out
}

func (s *memStore) booking(t *testing.T, id uuid.UUID) Booking {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	require.True(t, ok, "booking %s not stored", id)
	return *b
}

type fakeBusy struct {
	mu      sync.Mutex
	periods []availability.BusyPeriod
	err     error
}

func (f *fakeBusy) BusyPeriods(_ context.Context, _ string, _, _ time.Time) ([]availability.BusyPeriod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.periods, f.err
}

type fakeEvents struct {
	mu         sync.Mutex
	createErrs []error
	result     calendar.EventResult
	cancelErr  error
	created    []calendar.LessonEvent
	cancelled  []string
}

func (f *fakeEvents) CreateLessonEvent(_ context.Context, ev calendar.LessonEvent) (*calendar.EventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, ev)
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		if len(f.createErrs) > 1 {
			f.createErrs = f.createErrs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	res := f.result
	return &res, nil
}

func (f *fakeEvents) CancelEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, eventID)
	return f.cancelErr
}

type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	requested []notify.Notice
	followUps []notify.Notice
	reminders []notify.Notice
}

func (f *fakeNotifier) BookingRequested(_ context.Context, n notify.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, n)
	return f.err
}

func (f *fakeNotifier) FollowUpNeeded(_ context.Context, n notify.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUps = append(f.followUps, n)
	return f.err
}

func (f *fakeNotifier) LessonReminder(_ context.Context, n notify.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, n)
	return f.err
}

type testEnv struct {
	app      *App
	router   *gin.Engine
	store    *memStore
	busy     *fakeBusy
	events   *fakeEvents
	notifier *fakeNotifier

	student *Profile
	premium *Profile
	admin   *Profile
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := availability.ClockFunc(func() time.Time { return testNow })
	store := newMemStore()
	busy := &fakeBusy{}
	events := &fakeEvents{result: calendar.EventResult{EventID: "evt-1", MeetLink: "https://meet.google.com/abc-defg-hij"}}
	notifier := &fakeNotifier{}

	a := &App{
		Store: store,
		Engine: availability.NewEngine(busy, availability.Options{
			CalendarID: "primary",
			Clock:      clock,
			Policy:     availability.DefaultConfig("Asia/Tokyo"),
		}),
		Events:    events,
		Notifier:  notifier,
		Clock:     clock,
		Logger:    zap.NewNop(),
		JWTSecret: testSecret,
		Retry:     RetryPolicy{Base: time.Millisecond, MaxRetries: 3},
	}

	env := &testEnv{
		app:      a,
		router:   a.Router(),
		store:    store,
		busy:     busy,
		events:   events,
		notifier: notifier,
	}
	env.student = env.addProfile("ada@example.com", RoleStudent, PlanBasic)
	env.premium = env.addProfile("grace@example.com", RoleStudent, PlanPremium)
	env.admin = env.addProfile("admin@example.com", RoleAdmin, PlanBasic)
	return env
}

func (e *testEnv) addProfile(email string, role Role, plan SubscriptionPlan) *Profile {
	p := &Profile{
		ID:               uuid.New(),
		Email:            email,
		Role:             role,
		SubscriptionPlan: plan,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
	e.store.profiles[p.ID] = p
	return p
}

func (e *testEnv) addBooking(t *testing.T, student *Profile, status BookingStatus, at time.Time) *Booking {
	t.Helper()
	b := &Booking{
		StudentID:   student.ID,
		LessonType:  availability.LessonResponsePractice,
		Status:      status,
		ScheduledAt: at,
	}
	require.NoError(t, e.store.CreateBooking(context.Background(), b))
	return b
}

func token(t *testing.T, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(testNow),
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Hour)),
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, as *Profile, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, as.ID.String()))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// wedMorning is the first bookable slot: Wednesday 2026-03-04 09:00 JST.
var wedMorning = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}
