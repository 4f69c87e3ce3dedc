package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bookingColumns = `id, student_id, instructor_id, lesson_type, status, scheduled_at,
	calendar_event_id, video_link, notes, cancellation_reason,
	reminder_sent, needs_follow_up, follow_up_reason, created_at, updated_at`

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	DB *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{DB: pool}
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *PGStore) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	q := `SELECT id, email, full_name, role, subscription_plan, created_at, updated_at
	      FROM profiles WHERE id=$1`

	var p Profile
	err := s.DB.QueryRow(ctx, q, id).Scan(&p.ID, &p.Email, &p.FullName, &p.Role,
		&p.SubscriptionPlan, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (s *PGStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	q := `SELECT id, email, full_name, role, subscription_plan, created_at, updated_at
	      FROM profiles ORDER BY created_at DESC`
	rows, err := s.DB.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Email, &p.FullName, &p.Role,
			&p.SubscriptionPlan, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateBooking(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()

	q := `INSERT INTO bookings
	      (id, student_id, instructor_id, lesson_type, status, scheduled_at, notes, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	      RETURNING created_at, updated_at`

	err := s.DB.QueryRow(ctx, q,
		b.ID, b.StudentID, b.InstructorID, b.LessonType, b.Status, b.ScheduledAt.UTC(), b.Notes, now,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (s *PGStore) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id=$1`
	b, err := scanBooking(s.DB.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

// UpdateBooking writes every mutable column of b.
func (s *PGStore) UpdateBooking(ctx context.Context, b *Booking) error {
	q := `UPDATE bookings
	      SET instructor_id=$1, status=$2, scheduled_at=$3, calendar_event_id=$4, video_link=$5,
	          notes=$6, cancellation_reason=$7, reminder_sent=$8, needs_follow_up=$9,
	          follow_up_reason=$10, updated_at=now()
	      WHERE id=$11
	      RETURNING updated_at`

	err := s.DB.QueryRow(ctx, q,
		b.InstructorID, b.Status, b.ScheduledAt.UTC(), b.CalendarEventID, b.VideoLink,
		b.Notes, b.CancellationReason, b.ReminderSent, b.NeedsFollowUp,
		b.FollowUpReason, b.ID,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

func (s *PGStore) ActiveBookingForStudent(ctx context.Context, studentID uuid.UUID) (*Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
	      WHERE student_id=$1 AND status IN ('pending','confirmed')
	      ORDER BY scheduled_at LIMIT 1`
	b, err := scanBooking(s.DB.QueryRow(ctx, q, studentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active booking: %w", err)
	}
	return b, nil
}

func (s *PGStore) ActiveBookings(ctx context.Context, from, to time.Time) ([]Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
	      WHERE status IN ('pending','confirmed') AND scheduled_at >= $1 AND scheduled_at < $2
	      ORDER BY scheduled_at`
	return s.queryBookings(ctx, "list active bookings", q, from.UTC(), to.UTC())
}

func (s *PGStore) ListBookingsByStudent(ctx context.Context, studentID uuid.UUID) ([]Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE student_id=$1 ORDER BY scheduled_at DESC`
	return s.queryBookings(ctx, "list student bookings", q, studentID)
}

// ListBookings returns all bookings, optionally filtered by status.
func (s *PGStore) ListBookings(ctx context.Context, status BookingStatus) ([]Booking, error) {
	if status == "" {
		q := `SELECT ` + bookingColumns + ` FROM bookings ORDER BY scheduled_at DESC`
		return s.queryBookings(ctx, "list bookings", q)
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE status=$1 ORDER BY scheduled_at DESC`
	return s.queryBookings(ctx, "list bookings", q, status)
}

func (s *PGStore) ListFollowUps(ctx context.Context) ([]Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE needs_follow_up ORDER BY updated_at`
	return s.queryBookings(ctx, "list follow-ups", q)
}

func (s *PGStore) DueReminders(ctx context.Context, from, to time.Time) ([]Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings
	      WHERE status='confirmed' AND NOT reminder_sent
	        AND scheduled_at >= $1 AND scheduled_at <= $2
	      ORDER BY scheduled_at`
	return s.queryBookings(ctx, "list due reminders", q, from.UTC(), to.UTC())
}

func (s *PGStore) MarkReminderSent(ctx context.Context, id uuid.UUID) error {
	tag, err := s.DB.Exec(ctx, `UPDATE bookings SET reminder_sent=true, updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListMessages(ctx context.Context, studentID uuid.UUID, limit int) ([]Message, error) {
	q := `SELECT id, student_id, author_id, content, created_at FROM (
	          SELECT id, student_id, author_id, content, created_at
	          FROM messages WHERE student_id=$1
	          ORDER BY created_at DESC LIMIT $2
	      ) recent ORDER BY created_at`
	rows, err := s.DB.Query(ctx, q, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.StudentID, &m.AuthorID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	q := `INSERT INTO messages (id, student_id, author_id, content, created_at)
	      VALUES ($1,$2,$3,$4,now()) RETURNING created_at`
	if err := s.DB.QueryRow(ctx, q, m.ID, m.StudentID, m.AuthorID, m.Content).Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *PGStore) queryBookings(ctx context.Context, op, q string, args ...any) ([]Booking, error) {
	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.StudentID, &b.InstructorID, &b.LessonType, &b.Status, &b.ScheduledAt,
		&b.CalendarEventID, &b.VideoLink, &b.Notes, &b.CancellationReason,
		&b.ReminderSent, &b.NeedsFollowUp, &b.FollowUpReason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
