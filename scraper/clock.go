package scraper

import (
	"context"
	"sync"
	"time"
)

// Clock is the only way the scraper waits, so tests can run pacing and backoff instantly.
type Clock interface {
	Now() time.Time
	// Sleep returns early with the context error if ctx is done first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type FakeClock struct {
	mutex  sync.Mutex
	now    time.Time
	Sleeps []time.Duration
	// OnSleep runs before the clock advances, tests use it to cancel mid-wait.
	OnSleep func(d time.Duration)
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{
		mutex:   sync.Mutex{},
		now:     now,
		Sleeps:  nil,
		OnSleep: nil,
	}
}

func (c *FakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	c.mutex.Lock()
	c.Sleeps = append(c.Sleeps, d)
	onSleep := c.OnSleep
	c.mutex.Unlock()
	if onSleep != nil {
		onSleep(d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *FakeClock) TotalSlept() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var total time.Duration
	for _, d := range c.Sleeps {
		total += d
	}
	return total
}
