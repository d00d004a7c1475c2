package strava

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Strava rate limits:
// - 100 requests per 15 minutes
// - 1000 requests per day
// The limiter is shared by every session talking through one Client.

// RateLimiter manages Strava API rate limits
type RateLimiter struct {
	mu sync.Mutex

	short window // 15-minute window
	daily window

	// Minimum interval between requests
	minInterval time.Duration
	lastRequest time.Time
}

type window struct {
	limit    int
	usage    int
	resetsAt time.Time
	next     func(now time.Time) time.Time
}

func (w *window) roll(now time.Time) {
	if now.After(w.resetsAt) {
		w.usage = 0
		w.resetsAt = w.next(now)
	}
}

// Strava resets the short window on the clock quarter-hour and the daily one at midnight UTC
func nextQuarterHour(now time.Time) time.Time {
	return now.Truncate(15 * time.Minute).Add(15 * time.Minute)
}

func nextMidnight(now time.Time) time.Time {
	return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// NewRateLimiter creates a new rate limiter with Strava's limits
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		short:       window{limit: 100, resetsAt: nextQuarterHour(now), next: nextQuarterHour},
		daily:       window{limit: 1000, resetsAt: nextMidnight(now), next: nextMidnight},
		minInterval: minInterval,
	}
}

// Wait blocks until a request can be made without exceeding rate limits
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		now := time.Now()
		r.short.roll(now)
		r.daily.roll(now)

		var d time.Duration
		switch {
		case r.short.usage >= r.short.limit:
			d = r.short.resetsAt.Sub(now)
		case r.daily.usage >= r.daily.limit:
			d = r.daily.resetsAt.Sub(now)
		case now.Sub(r.lastRequest) < r.minInterval:
			d = r.minInterval - now.Sub(r.lastRequest)
		}
		if d <= 0 {
			break
		}

		r.mu.Unlock()
		err := sleep(ctx, d)
		r.mu.Lock()
		if err != nil {
			return err
		}
	}

	r.short.usage++
	r.daily.usage++
	r.lastRequest = time.Now()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateFromHeaders updates rate limit state from Strava response headers
func (r *RateLimiter) UpdateFromHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strava returns: X-RateLimit-Limit: "100,1000" and X-RateLimit-Usage: "34,512"
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Usage")); ok {
		r.short.usage, r.daily.usage = short, daily
	}
	if short, daily, ok := parsePair(h.Get("X-RateLimit-Limit")); ok {
		r.short.limit, r.daily.limit = short, daily
	}
}

func parsePair(v string) (int, int, bool) {
	parts := strings.Split(v, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// Status returns current rate limit status
func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.short.limit - r.short.usage, r.daily.limit - r.daily.usage
}
