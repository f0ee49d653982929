package pacing

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Controller issues bounded randomized delays between target visits to
// defeat naive rate-based bot detection.
type Controller struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	logger *slog.Logger
}

func New(logger *slog.Logger) *Controller {
	return &Controller{
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.With("component", "pacing"),
	}
}

// Wait blocks for a duration drawn uniformly from [min, max], or until the
// context is cancelled.
func (c *Controller) Wait(ctx context.Context, min, max time.Duration) error {
	delay := c.Delay(min, max)
	c.logger.Info("pacing delay", "delay", delay.Round(100*time.Millisecond))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Delay draws a uniform duration from [min, max].
func (c *Controller) Delay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}

	c.mu.Lock()
	jitter := time.Duration(c.rnd.Int63n(int64(max - min)))
	c.mu.Unlock()

	return min + jitter
}
