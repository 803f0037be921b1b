package resilience

import (
	"context"
	"time"
)

// fakeClock advances instantly on Sleep and records every requested delay
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	c.sleeps++
	return nil
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
