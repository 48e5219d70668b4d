package utils

import (
	"sync"
	"time"
)

// Cooldown tracks the last accepted hit per key and rejects hits that arrive
// inside the window.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// Allow reports whether a hit for key is outside the window and, if so,
// records it.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window > 0 {
		if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
			return false
		}
	}
	c.last[key] = now
	return true
}

// Prune drops entries older than the window.
func (c *Cooldown) Prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, last := range c.last {
		if now.Sub(last) >= c.window {
			delete(c.last, key)
		}
	}
}
