package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ContentSource renders targets. The scraper never knows how.
type ContentSource interface {
	// OpenTarget fails with ErrTargetUnavailable when the target can't be reached at all.
	OpenTarget(ctx context.Context, target Target) (Handle, error)
	// ScrollAndCollect advances the feed by one scroll, waits pause for new content to render
	// and returns the fragments currently rendered. Retryable failures are
	// *TransientFetchError.
	ScrollAndCollect(ctx context.Context, handle Handle, pause time.Duration) ([]RawFragment, error)
	CloseTarget(handle Handle) error
}

type MemoryRound struct {
	Fragments []RawFragment
	MaybeErr  error
	// MaybeOnServe runs when the round is handed out, before returning.
	MaybeOnServe func()
}

// MemorySource replays the same scripted rounds for every target it opens. Once the script
// runs out, the last successful round is served again, like a feed that stopped loading.
type MemorySource struct {
	Rounds         []MemoryRound
	MaybeOpenErr   error
	MaybeCloseErr  error
	MaybeScriptFor func(target Target) []MemoryRound

	mutex   sync.Mutex
	opens   int
	closes  int
	collect int
	pauses  []time.Duration
}

func NewMemorySource(rounds ...MemoryRound) *MemorySource {
	return &MemorySource{ //nolint:exhaustruct
		Rounds: rounds,
	}
}

type memoryHandle struct {
	target   Target
	rounds   []MemoryRound
	served   int
	lastGood []RawFragment
	closed   bool
}

func (h *memoryHandle) Target() Target {
	return h.target
}

func (s *MemorySource) OpenTarget(ctx context.Context, target Target) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.MaybeOpenErr != nil {
		return nil, s.MaybeOpenErr
	}
	s.opens++
	rounds := s.Rounds
	if s.MaybeScriptFor != nil {
		rounds = s.MaybeScriptFor(target)
	}
	return &memoryHandle{
		target:   target,
		rounds:   rounds,
		served:   0,
		lastGood: nil,
		closed:   false,
	}, nil
}

func (s *MemorySource) ScrollAndCollect(
	ctx context.Context, handle Handle, pause time.Duration,
) ([]RawFragment, error) {
	memHandle, ok := handle.(*memoryHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle: %T", handle)
	}

	s.mutex.Lock()
	s.collect++
	s.pauses = append(s.pauses, pause)
	s.mutex.Unlock()

	if memHandle.closed {
		return nil, fmt.Errorf("collecting from closed target %s", memHandle.target)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if memHandle.served >= len(memHandle.rounds) {
		return memHandle.lastGood, nil
	}

	round := memHandle.rounds[memHandle.served]
	memHandle.served++
	if round.MaybeOnServe != nil {
		round.MaybeOnServe()
	}
	if round.MaybeErr != nil {
		return nil, round.MaybeErr
	}
	memHandle.lastGood = round.Fragments
	return round.Fragments, nil
}

func (s *MemorySource) CloseTarget(handle Handle) error {
	memHandle, ok := handle.(*memoryHandle)
	if !ok {
		return fmt.Errorf("foreign handle: %T", handle)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	memHandle.closed = true
	s.closes++
	return s.MaybeCloseErr
}

func (s *MemorySource) Opens() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.opens
}

func (s *MemorySource) Closes() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closes
}

// Collects counts ScrollAndCollect calls, including failed ones.
func (s *MemorySource) Collects() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.collect
}

func (s *MemorySource) Pauses() []time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]time.Duration(nil), s.pauses...)
}
