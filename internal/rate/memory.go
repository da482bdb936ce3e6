package rate

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter: misma semántica fixed-window que RedisLimiter pero por
// proceso. Es el default para deploys de una sola réplica.
type MemoryLimiter struct {
	c      *gocache.Cache
	max    int64
	window time.Duration
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		c:      gocache.New(window, 2*window),
		max:    int64(max),
		window: window,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.window)
	k := fmt.Sprintf("%s:%d", key, winStart.Unix())

	var hits int64
	if err := l.c.Add(k, int64(1), l.window); err == nil {
		hits = 1
	} else {
		n, err := l.c.IncrementInt64(k, 1)
		if err != nil {
			// la entrada expiró entre Add e Increment; arranca ventana nueva
			l.c.Set(k, int64(1), l.window)
			n = 1
		}
		hits = n
	}

	res := Result{Allowed: hits <= l.max, Remaining: l.max - hits}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(l.window).Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res, nil
}
