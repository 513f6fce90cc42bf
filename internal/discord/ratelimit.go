package discord

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterTTL is how long an untouched per-user limiter is kept.
const limiterTTL = 10 * time.Minute

// UserLimiter throttles commands per Discord user with one token bucket per
// user. A zero per-minute rate disables throttling.
//
// Safe for concurrent use.
type UserLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	users    map[string]*userBucket
	now      func() time.Time
	lastTrim time.Time
}

type userBucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewUserLimiter allows perMinute commands per user and minute with bursts
// of up to burst commands. burst defaults to 1.
func NewUserLimiter(perMinute float64, burst int) *UserLimiter {
	if burst < 1 {
		burst = 1
	}
	return &UserLimiter{
		limit: rate.Limit(perMinute / 60),
		burst: burst,
		users: make(map[string]*userBucket),
		now:   time.Now,
	}
}

// Allow reports whether userID may run a command now. When it may not,
// retryAfter is the wait until the next token.
func (l *UserLimiter) Allow(userID string) (ok bool, retryAfter time.Duration) {
	if l == nil {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit <= 0 {
		return true, 0
	}

	now := l.now()
	l.trim(now)

	b, found := l.users[userID]
	if !found {
		b = &userBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.users[userID] = b
	}
	b.seen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// SetRate replaces the rate and burst. Existing buckets are dropped so
// every user starts with a full burst at the new rate.
func (l *UserLimiter) SetRate(perMinute float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = rate.Limit(perMinute / 60)
	l.burst = burst
	clear(l.users)
}

// trim forgets limiters idle for longer than limiterTTL. Must be called
// with l.mu held.
func (l *UserLimiter) trim(now time.Time) {
	if now.Sub(l.lastTrim) < limiterTTL {
		return
	}
	l.lastTrim = now
	for id, b := range l.users {
		if now.Sub(b.seen) > limiterTTL {
			delete(l.users, id)
		}
	}
}
