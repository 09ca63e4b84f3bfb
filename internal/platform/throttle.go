package platform

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Throttle enforces the global per-platform API budget at the point of
// adapter invocation. Per-user fairness is handled upstream by the queue;
// this is the platform-wide ceiling shared by every user.
type Throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[Name]*rate.Limiter
}

// NewThrottle allows perSecond requests per platform with the given burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	return &Throttle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[Name]*rate.Limiter),
	}
}

func (t *Throttle) limiter(name Name) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[name]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[name] = l
	}
	return l
}

// Wait blocks until the platform's budget admits one request, or the
// context is cancelled.
func (t *Throttle) Wait(ctx context.Context, name Name) error {
	return t.limiter(name).Wait(ctx)
}
