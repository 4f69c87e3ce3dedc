package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutoring-scheduler/internal/availability"
	"tutoring-scheduler/internal/calendar"
	"tutoring-scheduler/internal/notify"
)

// EventScheduler manages the instructor's calendar entries for bookings.
type EventScheduler interface {
	CreateLessonEvent(ctx context.Context, ev calendar.LessonEvent) (*calendar.EventResult, error)
	CancelEvent(ctx context.Context, eventID string) error
}

// App holds the dependencies shared by the HTTP handlers and the
// background jobs.
type App struct {
	Store     Store
	Engine    *availability.Engine
	Events    EventScheduler
	Notifier  notify.Notifier
	Clock     availability.Clock
	Logger    *zap.Logger
	JWTSecret []byte
	Retry     RetryPolicy

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string
	RateLimit   RateLimit
}

func (a *App) now() time.Time {
	if a.Clock == nil {
		return time.Now()
	}
	return a.Clock.Now()
}

// Router builds the HTTP API.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(a.Logger))
	if len(a.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  a.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Authorization", "Content-Type"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.GET("/healthz", a.HealthHandler)

	api := r.Group("/api")
	api.Use(a.AuthMiddleware())
	{
		limited := a.CalendarRateLimit()
		api.GET("/availability", limited, a.AvailabilityHandler)

		api.GET("/bookings/eligibility", a.EligibilityHandler)
		api.POST("/bookings", limited, a.CreateBookingHandler)
		api.GET("/bookings", a.ListBookingsHandler)
		api.GET("/bookings/:id", a.GetBookingHandler)
		api.POST("/bookings/:id/cancel", a.CancelBookingHandler)

		api.GET("/messages", a.ListMessagesHandler)
		api.POST("/messages", a.CreateMessageHandler)
	}

	admin := api.Group("/admin")
	admin.Use(RequireRole(RoleAdmin))
	{
		admin.GET("/bookings", a.AdminListBookingsHandler)
		admin.PATCH("/bookings/:id", a.AdminUpdateBookingHandler)
		admin.GET("/users", a.AdminListUsersHandler)
		admin.GET("/follow-ups", a.AdminListFollowUpsHandler)
		admin.POST("/follow-ups/:id/resolve", a.AdminResolveFollowUpHandler)
	}

	return r
}

// GET /healthz
func (a *App) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := a.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
