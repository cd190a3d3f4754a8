package httpx

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const counterPruneInterval = 5 * time.Minute

// quota is a named request budget. Quotas are counted separately, so a
// dashboard polling /events never uses up its owner's deploys.
type quota struct {
	name   string
	limit  int
	window time.Duration
}

var (
	quotaRead   = quota{name: "read", limit: 120, window: time.Minute}
	quotaWrite  = quota{name: "write", limit: 30, window: time.Minute}
	quotaStream = quota{name: "stream", limit: 30, window: 30 * time.Second}
)

func (r *Router) deployQuota() quota {
	return quota{name: "deploy", limit: r.deployRateLimit, window: time.Minute}
}

// subject is who a request is charged to: an authenticated user or, when
// no user is known, the client address.
type subject struct {
	kind string
	id   string
}

func userSubject(id string) subject { return subject{kind: "user", id: id} }

func addrSubject(req *http.Request) subject {
	host := clientIP(req)
	if host == "" {
		host = "unknown"
	}
	return subject{kind: "ip", id: host}
}

func (q quota) key(s subject) string {
	return q.name + ":" + s.kind + ":" + s.id
}

// RateLimiter charges one request to key under a sliding window.
type RateLimiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed bool
	used    int
	resetAt time.Time
}

// slidingCounter approximates the trailing window from two aligned fixed
// windows: the previous one is weighted by how much of it still overlaps.
type slidingCounter struct {
	start    time.Time
	window   time.Duration
	current  int
	previous int
}

func (c *slidingCounter) roll(now time.Time) {
	switch elapsed := now.Sub(c.start); {
	case elapsed < c.window:
	case elapsed < 2*c.window:
		c.previous, c.current = c.current, 0
		c.start = c.start.Add(c.window)
	default:
		c.previous, c.current = 0, 0
		c.start = now.Truncate(c.window)
	}
}

func (c *slidingCounter) estimate(now time.Time) int {
	return c.current + weighted(c.previous, now.Sub(c.start), c.window)
}

func weighted(previous int, elapsed, window time.Duration) int {
	overlap := 1 - float64(elapsed)/float64(window)
	if overlap <= 0 {
		return 0
	}
	return int(float64(previous) * overlap)
}

type localRateLimiter struct {
	mu       sync.Mutex
	counters map[string]*slidingCounter
	now      func() time.Time
	stopCh   chan struct{}
	once     sync.Once
}

// NewLocalRateLimiter returns a limiter that only sees this process.
func NewLocalRateLimiter() RateLimiter {
	l := &localRateLimiter{
		counters: make(map[string]*slidingCounter),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.pruneLoop()
	return l
}

func (l *localRateLimiter) Take(_ context.Context, key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || c.window != window {
		c = &slidingCounter{start: now.Truncate(window), window: window}
		l.counters[key] = c
	}
	c.roll(now)
	used := c.estimate(now)
	resetAt := c.start.Add(window)
	if used >= limit {
		return rateDecision{allowed: false, used: used, resetAt: resetAt}
	}
	c.current++
	return rateDecision{allowed: true, used: used + 1, resetAt: resetAt}
}

func (l *localRateLimiter) pruneLoop() {
	ticker := time.NewTicker(counterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.prune(l.now())
		case <-l.stopCh:
			return
		}
	}
}

// prune drops counters whose windows no longer overlap now.
func (l *localRateLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, c := range l.counters {
		if now.Sub(c.start) >= 2*c.window {
			delete(l.counters, key)
		}
	}
}

func (l *localRateLimiter) Close() {
	l.once.Do(func() {
		close(l.stopCh)
	})
}

// withQuota charges each request to the subject returned by who, falling
// back to the client address.
func (r *Router) withQuota(q quota, who func(*http.Request) (subject, bool), next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if q.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		sub, ok := who(req)
		if !ok {
			sub = addrSubject(req)
		}
		decision := r.limiter.Take(req.Context(), q.key(sub), q.limit, q.window)
		r.applyRateHeaders(w, q.limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(routePattern(req), q.name, sub.kind)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// authedQuota requires a bearer token and charges the quota to its user.
func (r *Router) authedQuota(q quota, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.withQuota(q, authenticatedUser, next))
}

func authenticatedUser(req *http.Request) (subject, bool) {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return userSubject(info.UserID), true
	}
	return subject{}, false
}
