package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navihealth/navi-portal/internal/http/response"
	"github.com/navihealth/navi-portal/internal/observability"
)

// Quota allows Requests hits per client in each fixed window of length Per.
type Quota struct {
	Requests int
	Per      time.Duration
}

func (q Quota) normalized() Quota {
	if q.Requests < 1 {
		q.Requests = 1
	}
	if q.Per <= 0 {
		q.Per = time.Minute
	}
	return q
}

// Verdict is the outcome of counting one hit.
type Verdict struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts a hit against key and reports whether it fits the quota.
type Limiter interface {
	Allow(ctx context.Context, key string, q Quota) (Verdict, error)
}

// FailureMode decides what a limiter backend error means for the request.
type FailureMode int

const (
	FailClosed FailureMode = iota
	FailOpen
)

type RateLimiter struct {
	backend Limiter
	quota   Quota
	mode    FailureMode
	scope   string
}

// NewRateLimiter keeps counters in process memory.
func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	return NewDistributedRateLimiter(NewLocalFixedWindowLimiter(), limit, window, FailClosed, scope)
}

// NewDistributedRateLimiter counts through backend, usually a
// RedisFixedWindowLimiter shared by every replica. Keys are scope:clientIP.
func NewDistributedRateLimiter(backend Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		backend: backend,
		quota:   Quota{Requests: limit, Per: window}.normalized(),
		mode:    mode,
		scope:   scope,
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			v, err := rl.backend.Allow(ctx, rl.scope+":"+clientIP(r), rl.quota)
			switch {
			case err != nil && rl.mode == FailOpen:
				observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error")
				slog.WarnContext(ctx, "rate limiter unavailable, letting request through", "scope", rl.scope, "error", err)
				next.ServeHTTP(w, r)
			case err != nil:
				observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error")
				rl.reject(w, r, Verdict{ResetAt: time.Now().Add(rl.quota.Per)})
			case !v.Allowed:
				observability.RecordRateLimitDecision(ctx, rl.scope, "deny")
				rl.reject(w, r, v)
			default:
				observability.RecordRateLimitDecision(ctx, rl.scope, "allow")
				setQuotaHeaders(w.Header(), rl.quota.Requests, v)
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, v Verdict) {
	setQuotaHeaders(w.Header(), rl.quota.Requests, v)
	wait := int(math.Ceil(time.Until(v.ResetAt).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(wait, 1)))
	response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
}

func setQuotaHeaders(h http.Header, limit int, v Verdict) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(v.Remaining, 0)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(v.ResetAt.Unix(), 10))
}

type window struct {
	start time.Time
	hits  int
}

type localFixedWindowLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	sweepAt time.Time
	now     func() time.Time
}

func NewLocalFixedWindowLimiter() Limiter {
	return &localFixedWindowLimiter{windows: map[string]window{}, now: time.Now}
}

func (l *localFixedWindowLimiter) Allow(_ context.Context, key string, q Quota) (Verdict, error) {
	q = q.normalized()
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop stale windows at most once per window length.
	if now.After(l.sweepAt) {
		for k, win := range l.windows {
			if now.Sub(win.start) >= q.Per {
				delete(l.windows, k)
			}
		}
		l.sweepAt = now.Add(q.Per)
	}

	win, ok := l.windows[key]
	if !ok || now.Sub(win.start) >= q.Per {
		win = window{start: now}
	}
	v := Verdict{ResetAt: win.start.Add(q.Per)}
	if win.hits < q.Requests {
		win.hits++
		v.Allowed = true
		v.Remaining = q.Requests - win.hits
	}
	l.windows[key] = win
	return v, nil
}

// RedisFixedWindowLimiter aligns windows to wall clock multiples of the quota
// period and counts with INCR, so every replica shares one budget per key.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rate_limit"
	}
	return &RedisFixedWindowLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, q Quota) (Verdict, error) {
	q = q.normalized()
	start := l.now().Truncate(q.Per)
	counter := fmt.Sprintf("%s:%s:%d", l.prefix, key, start.Unix())

	pipe := l.client.TxPipeline()
	hits := pipe.Incr(ctx, counter)
	pipe.Expire(ctx, counter, q.Per)
	if _, err := pipe.Exec(ctx); err != nil {
		return Verdict{}, fmt.Errorf("count hit: %w", err)
	}
	n := int(hits.Val())
	return Verdict{
		Allowed:   n <= q.Requests,
		Remaining: q.Requests - n,
		ResetAt:   start.Add(q.Per),
	}, nil
}

// clientIP reads RemoteAddr after chi's RealIP has rewritten it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}
