package scraper

import (
	"context"
	"time"

	"feedscroll/oops"
)

type Budget struct {
	MaxItems            int
	MaxRounds           int
	StagnationThreshold int
}

// RunState lives for one session and is only touched by the paginator.
type RunState struct {
	Round    int
	Yielded  int
	Stagnant int
	Budget   Budget
}

type ExhaustReason string

const (
	ExhaustReasonNone       ExhaustReason = ""
	ExhaustReasonItems      ExhaustReason = "items"
	ExhaustReasonStagnation ExhaustReason = "stagnation"
	ExhaustReasonRounds     ExhaustReason = "rounds"
)

type paginatorPhase int

const (
	phaseIdle paginatorPhase = iota
	phaseFetching
	phaseEvaluating
	phaseExhausted
)

// Paginator drives rounds against one opened target: Idle -> Fetching -> Evaluating ->
// Fetching or Exhausted. NextBatch fetches a round, Evaluate takes the number of records
// that were new after dedup and decides whether there is another round.
type Paginator struct {
	source      ContentSource
	handle      Handle
	governor    *Governor
	clock       Clock
	pacing      time.Duration
	scrollPause time.Duration

	state          RunState
	phase          paginatorPhase
	lastRoundStart time.Time
	reason         ExhaustReason
}

func NewPaginator(
	source ContentSource, handle Handle, governor *Governor, clock Clock, budget Budget,
	pacing time.Duration, scrollPause time.Duration,
) *Paginator {
	return &Paginator{
		source:      source,
		handle:      handle,
		governor:    governor,
		clock:       clock,
		pacing:      pacing,
		scrollPause: scrollPause,
		state: RunState{
			Round:    0,
			Yielded:  0,
			Stagnant: 0,
			Budget:   budget,
		},
		phase:          phaseIdle,
		lastRoundStart: time.Time{},
		reason:         ExhaustReasonNone,
	}
}

// NextBatch waits out the pacing delay (never before the first round) and collects one round
// through the governor. A failed round leaves the paginator exhausted.
func (p *Paginator) NextBatch(ctx context.Context) ([]RawFragment, error) {
	switch p.phase {
	case phaseExhausted:
		return nil, ErrPaginatorExhausted
	case phaseFetching, phaseEvaluating:
		return nil, oops.Newf("next batch requested before round %d was evaluated", p.state.Round)
	case phaseIdle:
	}

	if err := ctx.Err(); err != nil {
		p.phase = phaseExhausted
		return nil, cancelled(err)
	}

	if p.state.Round > 0 && p.pacing > 0 {
		elapsed := p.clock.Now().Sub(p.lastRoundStart)
		if wait := p.pacing - elapsed; wait > 0 {
			if err := p.clock.Sleep(ctx, wait); err != nil {
				p.phase = phaseExhausted
				return nil, cancelled(err)
			}
		}
	}

	p.phase = phaseFetching
	p.lastRoundStart = p.clock.Now()
	p.state.Round++

	var fragments []RawFragment
	err := p.governor.Execute(ctx, func(ctx context.Context) error {
		var err error
		fragments, err = p.source.ScrollAndCollect(ctx, p.handle, p.scrollPause)
		return err
	})
	if err != nil {
		p.phase = phaseExhausted
		return nil, err
	}

	p.phase = phaseEvaluating
	return fragments, nil
}

// Evaluate returns true once the item budget is met, the feed stopped producing new records
// for StagnationThreshold rounds in a row, or the round budget ran out.
func (p *Paginator) Evaluate(newRecords int) bool {
	if p.phase == phaseExhausted {
		return true
	}
	if p.phase != phaseEvaluating {
		panic("evaluate called without a fetched round")
	}

	p.state.Yielded += newRecords
	if newRecords == 0 {
		p.state.Stagnant++
	} else {
		p.state.Stagnant = 0
	}

	budget := p.state.Budget
	switch {
	case p.state.Yielded >= budget.MaxItems:
		p.reason = ExhaustReasonItems
	case p.state.Stagnant >= budget.StagnationThreshold:
		p.reason = ExhaustReasonStagnation
	case p.state.Round >= budget.MaxRounds:
		p.reason = ExhaustReasonRounds
	default:
		p.phase = phaseIdle
		return false
	}

	p.phase = phaseExhausted
	return true
}

func (p *Paginator) Remaining() int {
	remaining := p.state.Budget.MaxItems - p.state.Yielded
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *Paginator) State() RunState {
	return p.state
}

func (p *Paginator) ExhaustReason() ExhaustReason {
	return p.reason
}

func (p *Paginator) IsExhausted() bool {
	return p.phase == phaseExhausted
}
