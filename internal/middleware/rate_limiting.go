package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fettsack/geschmackstest/internal/telemetry/metrics"
	"github.com/fettsack/geschmackstest/pkg"

	"github.com/go-redis/redis_rate/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

//go:generate mockgen -source=$GOFILE -destination=rate_limiting_mocks_test.go -package=middleware_test

// RequestRateLimiter is satisfied by *redis_rate.Limiter and *LocalRateLimiter.
type RequestRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RateLimit limits the requests per client IP for the given router.
func RateLimit(
	rateLimiter RequestRateLimiter,
	routerName string,
	allowedPerMin int,
	metricsManager *metrics.Manager,
) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := fmt.Sprintf("%s:%s", routerName, pkg.ReadUserIP(r))
			res, err := rateLimiter.Allow(
				r.Context(),
				key,
				redis_rate.PerMinute(allowedPerMin),
			)
			if err != nil {
				log.Errorf("rate limit [%s]: %s", key, err)
				pkg.WriteJSONMessage(w, http.StatusInternalServerError, "Interner Serverfehler")
				return
			}

			if res.Allowed > 0 {
				next.ServeHTTP(w, r)
				return
			}

			if metricsManager != nil {
				metricsManager.CounterRateLimitedRequests.Inc()
			}
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			pkg.WriteJSONMessage(
				w,
				http.StatusTooManyRequests,
				"Zu viele Anfragen, bitte später erneut versuchen",
			)
		})
	}
}

const maxLocalLimiters = 10_000

var _ RequestRateLimiter = (*LocalRateLimiter)(nil)
var _ RequestRateLimiter = (*redis_rate.Limiter)(nil)

// LocalRateLimiter is the in-process token bucket counterpart of redis_rate,
// used when the service runs without redis.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

func (l *LocalRateLimiter) limiter(key string, limit redis_rate.Limit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[key]; ok {
		return lim
	}

	// crude bound on memory, the buckets are refilled within a period anyway
	if len(l.limiters) >= maxLocalLimiters {
		l.limiters = make(map[string]*rate.Limiter)
	}

	every := rate.Every(limit.Period / time.Duration(limit.Rate))
	lim := rate.NewLimiter(every, limit.Burst)
	l.limiters[key] = lim
	return lim
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	if limit.IsZero() || limit.Rate <= 0 {
		return nil, fmt.Errorf("invalid rate limit: %s", limit)
	}

	lim := l.limiter(key, limit)
	now := l.now()

	reservation := lim.ReserveN(now, 1)
	if !reservation.OK() {
		return &redis_rate.Result{Limit: limit, RetryAfter: limit.Period, ResetAfter: limit.Period}, nil
	}

	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return &redis_rate.Result{
			Limit:      limit,
			Allowed:    0,
			Remaining:  0,
			RetryAfter: delay,
			ResetAfter: delay,
		}, nil
	}

	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &redis_rate.Result{
		Limit:      limit,
		Allowed:    1,
		Remaining:  remaining,
		RetryAfter: -1,
		ResetAfter: limit.Period,
	}, nil
}
