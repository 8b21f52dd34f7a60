package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates over sliding minute and hour
// windows, plus daily request and upload quotas.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	users map[string]*UserUsage
	now   func() time.Time
}

// UserUsage tracks usage for a specific client.
type UserUsage struct {
	// Accepted request times within the last hour, oldest first.
	recent []time.Time

	requestsToday int
	dataToday     int64
	day           time.Time // midnight of the current quota day
}

// RequestsLastMinute counts accepted requests within the last minute of at.
func (u *UserUsage) RequestsLastMinute(at time.Time) int {
	return u.countSince(at.Add(-time.Minute))
}

// RequestsLastHour counts accepted requests within the last hour of at.
func (u *UserUsage) RequestsLastHour(at time.Time) int {
	return u.countSince(at.Add(-time.Hour))
}

// RequestsToday returns the daily request count.
func (u *UserUsage) RequestsToday() int { return u.requestsToday }

// DataToday returns the bytes uploaded today.
func (u *UserUsage) DataToday() int64 { return u.dataToday }

func (u *UserUsage) countSince(t time.Time) int {
	n := 0
	for i := len(u.recent) - 1; i >= 0 && u.recent[i].After(t); i-- {
		n++
	}
	return n
}

// NewRateLimiter creates a rate limiter. A limit <= 0 disables that check.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		users:             make(map[string]*UserUsage),
		now:               time.Now,
	}
}

// CheckRateLimit records a request of dataSize bytes from userID, or returns
// a *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckRateLimit(userID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage := rl.usage(userID, now)
	usage.prune(now)

	if err := rl.checkRates(usage, now); err != nil {
		return err
	}
	if err := rl.checkQuotas(usage, dataSize, now); err != nil {
		return err
	}

	usage.recent = append(usage.recent, now)
	usage.requestsToday++
	usage.dataToday += dataSize
	return nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// prune drops timestamps older than an hour and rolls the quota day.
func (u *UserUsage) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(u.recent) && !u.recent[i].After(cutoff) {
		i++
	}
	u.recent = u.recent[i:]

	if today := midnight(now); !today.Equal(u.day) {
		u.day = today
		u.requestsToday = 0
		u.dataToday = 0
	}
}

func (rl *RateLimiter) checkRates(usage *UserUsage, now time.Time) error {
	if rl.requestsPerMinute > 0 && usage.RequestsLastMinute(now) >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: usage.retryAfter(now, time.Minute, rl.requestsPerMinute),
		}
	}
	if rl.requestsPerHour > 0 && usage.RequestsLastHour(now) >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: usage.retryAfter(now, time.Hour, rl.requestsPerHour),
		}
	}
	return nil
}

// retryAfter is the time until the oldest request counted against limit
// leaves the window.
func (u *UserUsage) retryAfter(now time.Time, window time.Duration, limit int) time.Duration {
	idx := len(u.recent) - limit
	if idx < 0 {
		idx = 0
	}
	d := u.recent[idx].Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (rl *RateLimiter) checkQuotas(usage *UserUsage, dataSize int64, now time.Time) error {
	resets := midnight(now).AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && usage.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.maxRequestsPerDay),
			Used:   int64(usage.requestsToday),
			Resets: resets,
		}
	}
	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.maxDataPerDay,
			Used:   usage.dataToday,
			Resets: resets,
		}
	}
	return nil
}

func (rl *RateLimiter) usage(userID string, now time.Time) *UserUsage {
	usage, ok := rl.users[userID]
	if !ok {
		usage = &UserUsage{day: midnight(now)}
		rl.users[userID] = usage
	}
	return usage
}

// GetUsage returns a copy of the usage for a client.
func (rl *RateLimiter) GetUsage(userID string) UserUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	usage, ok := rl.users[userID]
	if !ok {
		return UserUsage{}
	}
	cp := *usage
	cp.recent = append([]time.Time(nil), usage.recent...)
	return cp
}

// Sweep forgets clients with no requests in the last hour and no quota
// usage today.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, usage := range rl.users {
		usage.prune(now)
		if len(usage.recent) == 0 && usage.requestsToday == 0 {
			delete(rl.users, id)
			removed++
		}
	}
	return removed
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}

// RunSweeper calls Sweep every interval until ctx is done.
func (rl *RateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				slog.Debug("Swept idle rate limit entries", "removed", n)
			}
		}
	}
}
