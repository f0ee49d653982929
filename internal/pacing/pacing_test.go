package pacing

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestController_DelayBounds(t *testing.T) {
	c := New(slog.Default())

	min, max := 10*time.Millisecond, 50*time.Millisecond
	for i := 0; i < 100; i++ {
		d := c.Delay(min, max)
		assert.GreaterOrEqual(t, d, min)
		assert.LessOrEqual(t, d, max)
	}
}

func TestController_DelayDegenerateRange(t *testing.T) {
	c := New(slog.Default())

	assert.Equal(t, time.Second, c.Delay(time.Second, time.Second))
	assert.Equal(t, time.Second, c.Delay(time.Second, time.Millisecond))
}

func TestController_WaitRespectsCancellation(t *testing.T) {
	c := New(slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := c.Wait(ctx, time.Minute, 2*time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestController_WaitCompletes(t *testing.T) {
	c := New(slog.Default())

	err := c.Wait(context.Background(), time.Millisecond, 2*time.Millisecond)
	assert.NoError(t, err)
}
