package queue

import (
	"math/rand"
	"time"
)

// Config holds queue tuning knobs.
type Config struct {
	MaxSize    int           // enqueue rejects beyond this
	MaxRetries int           // attempts before an action is FAILED
	BaseDelay  time.Duration // first retry delay before jitter
	MaxDelay   time.Duration // backoff ceiling
	StorageKey string        // durable store key for the snapshot
	Rand       func() float64 // jitter source in [0,1)
}

// DefaultConfig returns the production defaults. Tenant-scoped queues
// typically lower MaxSize.
func DefaultConfig() *Config {
	return &Config{
		MaxSize:    1000,
		MaxRetries: 3,
		BaseDelay:  30 * time.Second,
		MaxDelay:   time.Hour,
		StorageKey: "sync/actions",
	}
}

func (c *Config) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Hour
	}
	if c.StorageKey == "" {
		c.StorageKey = "sync/actions"
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
}

// backoff computes the jittered exponential retry delay:
// min(base * 2^retryCount, cap) scaled by a factor in [0.5, 1.0).
// The jitter spreads retries so many queued actions reconnecting at
// once do not hammer the server in lockstep.
func (q *ActionQueue) backoff(retryCount int) time.Duration {
	delay := q.cfg.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= q.cfg.MaxDelay {
			delay = q.cfg.MaxDelay
			break
		}
	}
	if delay > q.cfg.MaxDelay {
		delay = q.cfg.MaxDelay
	}

	factor := 0.5 + 0.5*q.cfg.Rand()
	return time.Duration(float64(delay) * factor)
}
