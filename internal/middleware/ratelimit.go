// ClarusRCM | 2026
// ratelimit.go

package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/clarusrcm/platform-api/internal/config"
	"github.com/clarusrcm/platform-api/internal/core"
)

// Per-minute request budgets by subscription tier. Unauthenticated
// traffic shares the configured anonymous budget keyed by client IP.
var tierLimits = map[string]int{
	"trial":        60,
	"starter":      300,
	"professional": 1200,
	"enterprise":   6000,
}

const defaultAnonymousLimit = 30

// TierFunc resolves the subscription tier for an organization. It must be
// cheap; resolvers are expected to serve from cache.
type TierFunc func(ctx context.Context, orgID uuid.UUID) string

type RateLimiter struct {
	limiter   *redis_rate.Limiter
	logger    *slog.Logger
	tierFunc  TierFunc
	anonLimit int

	// Local fallback used when redis is unreachable. Coarser than the
	// distributed limiter but keeps abuse bounded during an outage.
	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

func NewRateLimiter(
	client *redis.Client,
	tierFunc TierFunc,
	cfg config.RateLimitConfig,
	logger *slog.Logger,
) *RateLimiter {
	anonLimit := cfg.Requests
	if anonLimit <= 0 {
		anonLimit = defaultAnonymousLimit
	}

	return &RateLimiter{
		limiter:   redis_rate.NewLimiter(client),
		logger:    logger,
		tierFunc:  tierFunc,
		anonLimit: anonLimit,
		fallback:  make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, perMinute := rl.classify(r)

		res, err := rl.limiter.Allow(
			r.Context(),
			"ratelimit:"+key,
			redis_rate.PerMinute(perMinute),
		)
		if err != nil {
			if !rl.allowLocal(key, perMinute) {
				rl.reject(w, 0)
				return
			}
			rl.logger.Warn("rate limiter degraded to local fallback",
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			rl.reject(w, int(res.RetryAfter.Seconds()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) classify(r *http.Request) (string, int) {
	principal, ok := GetPrincipal(r.Context())
	if !ok {
		return "ip:" + clientIP(r), rl.anonLimit
	}

	if principal.OrgID != nil {
		tier := "trial"
		if rl.tierFunc != nil {
			tier = rl.tierFunc(r.Context(), *principal.OrgID)
		}
		return "org:" + principal.OrgID.String(), tierLimit(tier)
	}
	return "user:" + principal.UserID.String(), tierLimit("trial")
}

func tierLimit(tier string) int {
	if limit, ok := tierLimits[tier]; ok {
		return limit
	}
	return tierLimits["trial"]
}

func (rl *RateLimiter) allowLocal(key string, perMinute int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.fallback[key]
	if !ok {
		limiter = rate.NewLimiter(
			rate.Limit(float64(perMinute)/60.0),
			perMinute/4+1,
		)
		rl.fallback[key] = limiter
	}

	return limiter.Allow()
}

func (rl *RateLimiter) reject(w http.ResponseWriter, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	core.JSONError(w, core.NewAppError(
		nil,
		"rate limit exceeded",
		http.StatusTooManyRequests,
		"RATE_LIMITED",
	))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
