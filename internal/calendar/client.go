package calendar

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// ErrNotConfigured is returned by the disabled client when no Google
// credentials are available.
var ErrNotConfigured = errors.New("google calendar not configured")

// Client talks to one instructor calendar through the Google Calendar API.
type Client struct {
	svc        *gcal.Service
	calendarID string
	logger     *zap.Logger
}

// ServiceAccountConfig holds the credentials used in production.
type ServiceAccountConfig struct {
	KeyJSON       []byte
	DelegatedUser string
	CalendarID    string
}

// NewFromServiceAccount authenticates with a service-account key. When
// DelegatedUser is set the client impersonates that user (domain-wide
// delegation), which is required for Meet links.
func NewFromServiceAccount(ctx context.Context, cfg ServiceAccountConfig, logger *zap.Logger) (*Client, error) {
	if len(cfg.KeyJSON) == 0 || cfg.CalendarID == "" {
		return nil, ErrNotConfigured
	}

	jwtConfig, err := google.JWTConfigFromJSON(cfg.KeyJSON, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	if cfg.DelegatedUser != "" {
		jwtConfig.Subject = cfg.DelegatedUser
	}

	return New(ctx, cfg.CalendarID, logger, option.WithHTTPClient(jwtConfig.Client(ctx)))
}

// New builds a client from raw API options.
func New(ctx context.Context, calendarID string, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{svc: svc, calendarID: calendarID, logger: logger}, nil
}

// CalendarID returns the instructor calendar the client is bound to.
func (c *Client) CalendarID() string {
	return c.calendarID
}

func (c *Client) resolve(calendarID string) string {
	if calendarID == "" {
		return c.calendarID
	}
	return calendarID
}
