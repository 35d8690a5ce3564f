package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the per-client sliding window limiter.
//
// Reads and writes have separate budgets so that polling an order does not
// use up the client's checkout attempts.
type RateLimitConfig struct {
	Window time.Duration
	// Max is the read budget per window.
	Max int
	// WriteMax is the budget for POST requests. Zero means Max.
	WriteMax int
	// Key identifies the client. Defaults to RemoteIP.
	Key func(*http.Request) string
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

// counter is a two-bucket sliding window: the previous bucket is weighted
// by how much of it still overlaps the window ending now.
type counter struct {
	start time.Time
	prev  float64
	curr  float64
}

func (c *counter) estimate(now time.Time, window time.Duration) float64 {
	overlap := 1 - float64(now.Sub(c.start))/float64(window)
	return c.prev*math.Max(overlap, 0) + c.curr
}

func (c *counter) advance(now time.Time, window time.Duration) {
	bucket := now.Truncate(window)
	switch {
	case bucket.Equal(c.start):
	case bucket.Sub(c.start) == window:
		c.prev, c.curr, c.start = c.curr, 0, bucket
	default:
		c.prev, c.curr, c.start = 0, 0, bucket
	}
}

type limiter struct {
	window time.Duration

	mu       sync.Mutex
	counters map[string]*counter
}

// take records a hit for key if it fits under limit. It returns the
// remaining budget and when the current bucket ends.
func (l *limiter) take(key string, limit int, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.counters[key]
	if c == nil {
		c = &counter{start: now.Truncate(l.window)}
		l.counters[key] = c
	}
	c.advance(now, l.window)

	reset = c.start.Add(l.window)
	used := c.estimate(now, l.window)
	if used >= float64(limit) {
		return 0, reset, false
	}
	c.curr++
	return max(limit-int(math.Ceil(used+1)), 0), reset, true
}

// sweep drops clients idle for two windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*l.window {
			delete(l.counters, key)
		}
	}
}

// RateLimit limits requests per client and answers 429 with a JSON body
// once a budget is spent. Idle clients are swept until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Key == nil {
		cfg.Key = RemoteIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WriteMax <= 0 {
		cfg.WriteMax = cfg.Max
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &limiter{window: cfg.Window, counters: make(map[string]*counter)}

	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limit := "r|"+cfg.Key(r), cfg.Max
			if r.Method == http.MethodPost {
				key, limit = "w|"+cfg.Key(r), cfg.WriteMax
			}

			now := cfg.Now()
			remaining, reset, ok := l.take(key, limit, now)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			wait := math.Ceil(reset.Sub(now).Seconds())
			h.Set("Retry-After", strconv.Itoa(int(math.Max(wait, 1))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)

			var e jx.Encoder
			e.Obj(func(e *jx.Encoder) {
				e.Field("code", func(e *jx.Encoder) { e.Str("rate_limited") })
				e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
			})
			_, _ = w.Write(e.Bytes())
		})
	}
}

// HeaderOrIP keys requests by the value of header, falling back to
// ClientIP. Use it only behind a proxy that sets these headers.
func HeaderOrIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then
// RemoteIP. The headers are client-controlled unless a proxy overwrites them.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// RemoteIP returns the host of the connection's remote address.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
