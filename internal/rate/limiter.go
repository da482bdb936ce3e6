// Package rate implementa fixed-window rate limiting para los endpoints de
// emisión (token, códigos de verificación). La ventana es compartida entre
// réplicas cuando el backend es redis; el backend memory es por proceso.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

type Config struct {
	// Driver: "memory" (default) o "redis".
	Driver   string
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string

	Max    int
	Window time.Duration
}

// New arma el limiter según config. Max <= 0 desactiva el limiting y devuelve
// nil; los callers tratan nil como "sin límite".
func New(cfg Config) Limiter {
	if cfg.Max <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "multipass:rl:"
	}
	if cfg.Driver == "redis" {
		client := rdb.NewClient(&rdb.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		return &RedisLimiter{Client: client, Prefix: cfg.Prefix, Max: int64(cfg.Max), Window: cfg.Window}
	}
	return NewMemoryLimiter(cfg.Max, cfg.Window)
}

// RedisLimiter: fixed window sobre INCR + EXPIRE. La clave incluye el inicio
// de la ventana, así las ventanas viejas expiran solas.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	if incr.Val() == 1 {
		_ = l.Client.Expire(ctx, redisKey, l.Window).Err()
	}

	hits := incr.Val()
	res := Result{Allowed: hits <= l.Max, Remaining: l.Max - hits}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(l.Window).Sub(now)
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res, nil
}
