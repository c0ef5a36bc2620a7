package p2p

import (
	"sync"
	"time"
)

// RateLimitConfig configures the per-peer sliding-window message limiter
// and the global per-IP connection cap.
type RateLimitConfig struct {
	MaxMsgsPerSec       int
	WindowSecs          int
	BanSecs             int
	MaxConnectionsPerIP int
}

// DefaultRateLimitConfig matches the defaults a new node starts with absent
// explicit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxMsgsPerSec:       100,
		WindowSecs:          1,
		BanSecs:             3600,
		MaxConnectionsPerIP: 3,
	}
}

// rateLimiter enforces a sliding-window cap on messages-per-second for one
// peer and counts the messages that exceeded it.
type rateLimiter struct {
	mu         sync.Mutex
	cfg        RateLimitConfig
	windowFrom time.Time
	count      int
	violations int
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.MaxMsgsPerSec <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &rateLimiter{cfg: cfg, windowFrom: time.Now()}
}

// allow records one message and reports whether the peer is within its
// rate limit. violations returns the number of over-limit messages the
// peer has sent since the limiter was created (the count is never reset),
// so the caller can ban after three.
func (r *rateLimiter) allow() (ok bool, violations int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := time.Duration(r.cfg.WindowSecs) * time.Second
	if window <= 0 {
		window = time.Second
	}
	if time.Since(r.windowFrom) > window {
		r.windowFrom = time.Now()
		r.count = 0
	}
	r.count++
	if r.count <= r.cfg.MaxMsgsPerSec {
		return true, r.violations
	}
	r.violations++
	return false, r.violations
}
