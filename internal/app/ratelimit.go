package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit bounds how often one caller may hit calendar-backed endpoints.
// A zero Every disables limiting.
type RateLimit struct {
	Every time.Duration
	Burst int
}

// minLimiterIdle is the shortest time a caller's limiter is kept unused.
const minLimiterIdle = time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one limiter per caller. Limiters unused for longer
// than it takes them to refill are swept, since a fresh one is equivalent.
type limiterStore struct {
	mu        sync.Mutex
	limit     RateLimit
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*callerLimiter
}

func newLimiterStore(limit RateLimit, now func() time.Time) *limiterStore {
	burst := max(limit.Burst, 1)
	idle := max(limit.Every*time.Duration(burst), minLimiterIdle)
	return &limiterStore{
		limit:     RateLimit{Every: limit.Every, Burst: burst},
		idle:      idle,
		now:       now,
		lastSweep: now(),
		limiters:  make(map[string]*callerLimiter),
	}
}

// allow reports whether key may make one more call now.
func (s *limiterStore) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idle {
		s.sweep(now)
	}

	l, ok := s.limiters[key]
	if !ok {
		l = &callerLimiter{limiter: rate.NewLimiter(rate.Every(s.limit.Every), s.limit.Burst)}
		s.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func (s *limiterStore) sweep(now time.Time) {
	for key, l := range s.limiters {
		if now.Sub(l.lastSeen) >= s.idle {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// CalendarRateLimit throttles per authenticated profile so one client cannot
// exhaust the Google Calendar quota. It must run after AuthMiddleware.
func (a *App) CalendarRateLimit() gin.HandlerFunc {
	if a.RateLimit.Every <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	store := newLimiterStore(a.RateLimit, a.now)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if p := currentProfile(c); p != nil {
			key = p.ID.String()
		}
		if !store.allow(key) {
			a.Logger.Warn("Rate limit exceeded", zap.String("caller", key), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, try again later"})
			return
		}
		c.Next()
	}
}
