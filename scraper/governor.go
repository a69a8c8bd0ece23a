package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedscroll/config"
)

// Governor runs a fetch under bounded retries with exponential backoff. It is owned by one
// session and is not safe for concurrent use.
type Governor struct {
	clock          Clock
	logger         Logger
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration

	attempt         int
	retriesConsumed int
}

func NewGovernor(cfg config.Scrape, clock Clock, logger Logger) *Governor {
	maxAttempts := cfg.RetryAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Governor{
		clock:           clock,
		logger:          logger,
		maxAttempts:     maxAttempts,
		baseDelay:       cfg.RetryBaseDelay(),
		maxDelay:        cfg.RetryMaxDelay(),
		attemptTimeout:  cfg.FetchTimeout(),
		attempt:         0,
		retriesConsumed: 0,
	}
}

// Execute returns nil on the first successful attempt. A cancelled parent context yields
// ErrCancelled, a non-transient failure is returned as is, and running out of attempts on
// transient failures yields *FetchExhaustedError.
func (g *Governor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	g.attempt = 0
	var lastErr error
	for g.attempt < g.maxAttempts {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		deadlineHit, err := g.runAttempt(ctx, op)
		g.attempt++
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}
		if !deadlineHit && !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		lastErr = err
		if g.attempt >= g.maxAttempts {
			break
		}
		delay := g.NextDelay()
		g.logger.Warn("Attempt %d/%d failed, retrying in %v: %v", g.attempt, g.maxAttempts, delay, err)
		g.retriesConsumed++
		if err := g.clock.Sleep(ctx, delay); err != nil {
			return cancelled(err)
		}
	}

	g.logger.Error("Giving up after %d attempts: %v", g.attempt, lastErr)
	return &FetchExhaustedError{
		Attempts: g.attempt,
		Cause:    lastErr,
	}
}

func (g *Governor) runAttempt(
	ctx context.Context, op func(ctx context.Context) error,
) (deadlineHit bool, err error) {
	if g.attemptTimeout <= 0 {
		return false, op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()
	err = op(attemptCtx)
	return errors.Is(attemptCtx.Err(), context.DeadlineExceeded), err
}

// Attempt is the number of attempts made by the current or last Execute.
func (g *Governor) Attempt() int {
	return g.attempt
}

// NextDelay is the wait before the next attempt: base * 2^(attempts made - 1), capped.
func (g *Governor) NextDelay() time.Duration {
	exponent := g.attempt - 1
	if exponent < 0 {
		exponent = 0
	}
	delay := g.baseDelay
	for i := 0; i < exponent; i++ {
		delay *= 2
		if g.maxDelay > 0 && delay >= g.maxDelay {
			return g.maxDelay
		}
	}
	if g.maxDelay > 0 && delay > g.maxDelay {
		return g.maxDelay
	}
	return delay
}

// RetriesConsumed counts retries across every Execute of this governor.
func (g *Governor) RetriesConsumed() int {
	return g.retriesConsumed
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
