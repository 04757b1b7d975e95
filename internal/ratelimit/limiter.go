package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"notify-gateway/internal/common/errors"
)

const blockSuffix = ":block"

type Limiter struct {
	store  Store
	config *Config
}

type Config struct {
	DefaultLimit  int           `json:"default_limit"`
	DefaultWindow time.Duration `json:"default_window"`
	BlockDuration time.Duration `json:"block_duration"`
	Enabled       bool          `json:"enabled"`
}

// Result reports the outcome of one limiter check.
type Result struct {
	TotalHits         int64         `json:"total_hits"`
	Blocked           bool          `json:"blocked"`
	TimeToExpire      time.Duration `json:"time_to_expire"`
	TimeToBlockExpire time.Duration `json:"time_to_block_expire"`
}

func NewLimiter(store Store, config *Config) *Limiter {
	if config == nil {
		config = &Config{
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			BlockDuration: time.Minute,
			Enabled:       true,
		}
	}

	return &Limiter{
		store:  store,
		config: config,
	}
}

// Increment runs one limiter check for key.
//
// The block record is checked first and is authoritative: while it exists
// the counter is never touched, so a block stays sticky for its full
// duration regardless of traffic volume or window resets. The counter's own
// window is deliberately left alone when a block is set; if it outlives the
// block, the first request after unblocking re-blocks immediately.
func (l *Limiter) Increment(ctx context.Context, key string, window time.Duration, limit int, blockDuration time.Duration) (*Result, error) {
	if !l.config.Enabled {
		return &Result{TimeToExpire: window}, nil
	}

	blockKey := key + blockSuffix

	blockTTL, err := l.store.TTL(ctx, blockKey)
	if err != nil {
		return nil, errors.InternalError("failed to check block state", err).WithContext("key", key)
	}
	if blockTTL > 0 {
		return &Result{
			Blocked:           true,
			TimeToBlockExpire: blockTTL,
		}, nil
	}

	hits, err := l.store.IncrementWithTTL(ctx, key, window)
	if err != nil {
		return nil, errors.InternalError("failed to increment counter", err).WithContext("key", key)
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return nil, errors.InternalError("failed to read window ttl", err).WithContext("key", key)
	}

	if hits > int64(limit) {
		if _, err := l.store.SetIfAbsent(ctx, blockKey, blockDuration); err != nil {
			return nil, errors.InternalError("failed to set block", err).WithContext("key", key)
		}
		return &Result{
			TotalHits:         hits,
			Blocked:           true,
			TimeToExpire:      ttl,
			TimeToBlockExpire: blockDuration,
		}, nil
	}

	return &Result{
		TotalHits:    hits,
		TimeToExpire: ttl,
	}, nil
}

// IncrementDefault runs a limiter check with the configured defaults.
func (l *Limiter) IncrementDefault(ctx context.Context, key string) (*Result, error) {
	return l.Increment(ctx, key, l.config.DefaultWindow, l.config.DefaultLimit, l.config.BlockDuration)
}

// Limit returns the configured default limit.
func (l *Limiter) Limit() int {
	return l.config.DefaultLimit
}

// Window returns the configured default window.
func (l *Limiter) Window() time.Duration {
	return l.config.DefaultWindow
}

// Enabled reports whether limiting is active.
func (l *Limiter) Enabled() bool {
	return l.config.Enabled
}

// Key builds a composite rate-limit key from a throttler name and a caller
// identifier.
func Key(throttler, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", throttler, strings.ToLower(strings.TrimSpace(identifier)))
}

// ClientIP extracts the caller identifier from a request, preferring the
// X-Forwarded-For chain set by the load balancer.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
