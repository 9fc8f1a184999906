package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/vivamoms/consult/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL evicts limiters for clients not seen for this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 20, Burst: 40, IdleTTL: 10 * time.Minute}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	cfg       RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newLimiterStore(cfg RateLimitConfig, now func() time.Time) *limiterStore {
	return &limiterStore{visitors: make(map[string]*visitor), cfg: cfg, now: now, lastSweep: now()}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.cfg.IdleTTL > 0 && now.Sub(s.lastSweep) > s.cfg.IdleTTL {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.cfg.IdleTTL {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// rateKey limits authenticated callers per user and anonymous ones per IP.
func rateKey(c echo.Context) string {
	if actor, ok := auth.ActorFromContext(c.Request().Context()); ok {
		return "user:" + actor.ID.String()
	}
	return "ip:" + c.RealIP()
}

// RateLimit applies a token bucket per client. It must run after
// authentication to key on the user.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return rateLimit(newLimiterStore(cfg, time.Now))
}

func rateLimit(store *limiterStore) echo.MiddlewareFunc {
	limit := strconv.FormatFloat(store.cfg.RequestsPerSecond, 'f', -1, 64)
	retryAfter := "1"
	if rps := store.cfg.RequestsPerSecond; rps > 0 && rps < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / rps)))
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(rateKey(c))
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			if !lim.AllowN(store.now(), 1) {
				c.Response().Header().Set("Retry-After", retryAfter)
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
