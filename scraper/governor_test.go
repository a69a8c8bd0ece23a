package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedscroll/config"
)

var errFlaky = errors.New("connection reset")
var errBroken = errors.New("selector engine crashed")

func testScrapeConfig() config.Scrape {
	cfg := config.Default().Scrape
	cfg.FetchTimeoutSeconds = 0
	cfg.RetryAttempts = 3
	cfg.RetryBaseDelaySeconds = 1
	cfg.RetryMaxDelaySeconds = 30
	return cfg
}

func TestGovernorRetriesTransient(t *testing.T) {
	clock := NewFakeClock(testNow)
	governor := NewGovernor(testScrapeConfig(), clock, NewDummyLogger())

	calls := 0
	err := governor.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errFlaky)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, governor.Attempt())
	require.Equal(t, 2, governor.RetriesConsumed())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps)
}

func TestGovernorExhausts(t *testing.T) {
	clock := NewFakeClock(testNow)
	logger := NewDummyLogger()
	governor := NewGovernor(testScrapeConfig(), clock, logger)

	calls := 0
	err := governor.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient(errFlaky)
	})
	require.ErrorIs(t, err, ErrFetchExhausted)
	require.ErrorIs(t, err, errFlaky)
	var exhaustedErr *FetchExhaustedError
	require.True(t, errors.As(err, &exhaustedErr))
	require.Equal(t, 3, exhaustedErr.Attempts)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps)
	require.Len(t, logger.Warnings(), 3)
}

func TestGovernorDoesNotRetryPermanent(t *testing.T) {
	clock := NewFakeClock(testNow)
	governor := NewGovernor(testScrapeConfig(), clock, NewDummyLogger())

	calls := 0
	err := governor.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errBroken
	})
	require.ErrorIs(t, err, errBroken)
	require.NotErrorIs(t, err, ErrFetchExhausted)
	require.Equal(t, 1, calls)
	require.Empty(t, clock.Sleeps)
	require.Equal(t, 0, governor.RetriesConsumed())
}

func TestGovernorBackoffIsCapped(t *testing.T) {
	cfg := testScrapeConfig()
	cfg.RetryAttempts = 5
	cfg.RetryMaxDelaySeconds = 3
	clock := NewFakeClock(testNow)
	governor := NewGovernor(cfg, clock, NewDummyLogger())

	err := governor.Execute(context.Background(), func(ctx context.Context) error {
		return Transient(errFlaky)
	})
	require.ErrorIs(t, err, ErrFetchExhausted)
	require.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second,
	}, clock.Sleeps)
	require.Equal(t, 4, governor.RetriesConsumed())
}

func TestGovernorCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := NewFakeClock(testNow)
	clock.OnSleep = func(d time.Duration) {
		cancel()
	}
	governor := NewGovernor(testScrapeConfig(), clock, NewDummyLogger())

	calls := 0
	err := governor.Execute(ctx, func(ctx context.Context) error {
		calls++
		return Transient(errFlaky)
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrFetchExhausted)
	require.Equal(t, 1, calls)
}

func TestGovernorCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	governor := NewGovernor(testScrapeConfig(), NewFakeClock(testNow), NewDummyLogger())

	err := governor.Execute(ctx, func(ctx context.Context) error {
		require.Fail(t, "op shouldn't run")
		return nil
	})
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, 0, governor.Attempt())
}

func TestGovernorRetriesAttemptDeadline(t *testing.T) {
	cfg := testScrapeConfig()
	cfg.RetryAttempts = 2
	cfg.FetchTimeoutSeconds = 0.01
	clock := NewFakeClock(testNow)
	governor := NewGovernor(cfg, clock, NewDummyLogger())

	calls := 0
	err := governor.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrFetchExhausted)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 2, calls)
	require.Equal(t, []time.Duration{time.Second}, clock.Sleeps)
}
