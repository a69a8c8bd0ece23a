package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	om "github.com/wk8/go-ordered-map/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"feedscroll/config"
	"feedscroll/models"
	"feedscroll/oops"
)

type Outcome string

const (
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

type RunSummary struct {
	RunId            string        `json:"run_id"`
	Target           Target        `json:"-"`
	Rounds           int           `json:"rounds"`
	ProductiveRounds int           `json:"productive_rounds"`
	FragmentsSeen    int           `json:"fragments_seen"`
	FragmentsSkipped int           `json:"fragments_skipped"`
	Duplicates       int           `json:"duplicates"`
	Retries          int           `json:"retries"`
	ExhaustReason    ExhaustReason `json:"exhaust_reason"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}

func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Result is returned by every Run, complete or partial. Posts are in first-accepted order,
// Authors in first-seen order.
type Result struct {
	Posts   []models.Post
	Authors *om.OrderedMap[string, models.Author]
	Summary RunSummary
	Outcome Outcome
}

type Session struct {
	source ContentSource
	cfg    config.Scrape
	clock  Clock
	logger Logger
	sink   ProgressSink
	tracer trace.Tracer
}

type SessionOption func(s *Session)

func WithClock(clock Clock) SessionOption {
	return func(s *Session) {
		s.clock = clock
	}
}

func WithLogger(logger Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithProgressSink(sink ProgressSink) SessionOption {
	return func(s *Session) {
		s.sink = sink
	}
}

func WithTracer(tracer trace.Tracer) SessionOption {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// NewSession binds a source to a scrape configuration. A session can run several targets one
// after another, every run starts from empty state.
func NewSession(source ContentSource, cfg config.Scrape, opts ...SessionOption) *Session {
	session := &Session{
		source: source,
		cfg:    cfg,
		clock:  NewRealClock(),
		logger: NewDummyLogger(),
		sink:   nil,
		tracer: otel.Tracer("feedscroll/scraper"),
	}
	for _, opt := range opts {
		opt(session)
	}
	if session.sink == nil {
		session.sink = NewMockProgressSink(session.logger)
	}
	return session
}

type runContext struct {
	result     *Result
	normalizer *Normalizer
	dedup      *DedupStore
	governor   *Governor
	paginator  *Paginator
	progress   *ProgressLogger
}

// Run scrapes one target until its budget is met or the feed stops producing new posts. On
// error the partial result is returned as well, with the outcome telling cancellation apart
// from failure.
func (s *Session) Run(ctx context.Context, target Target) (*Result, error) {
	result := &Result{
		Posts:   []models.Post{},
		Authors: om.New[string, models.Author](),
		Summary: RunSummary{ //nolint:exhaustruct
			RunId:     uuid.NewString(),
			Target:    target,
			StartedAt: s.clock.Now(),
		},
		Outcome: "",
	}

	progress := NewProgressLogger(s.sink)
	ctx, span := s.tracer.Start(ctx, "scrape.session", trace.WithAttributes(
		attribute.String("run_id", result.Summary.RunId),
		attribute.String("target", target.String()),
	))
	defer span.End()

	handleName, ok := NormalizeHandle(target.Handle)
	if !ok {
		err := oops.Wrap(fmt.Errorf("%w: %q", ErrInvalidTarget, target.Handle))
		return s.finish(span, progress, result, nil, OutcomeFailed, err)
	}
	target.Handle = handleName
	result.Summary.Target = target

	s.logger.Info("Opening %s (run %s)", target, result.Summary.RunId)
	handle, err := s.source.OpenTarget(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.finish(span, progress, result, nil, OutcomeCancelled, cancelled(ctxErr))
		}
		if !errors.Is(err, ErrTargetUnavailable) {
			err = fmt.Errorf("%w: %w", ErrTargetUnavailable, err)
		}
		return s.finish(span, progress, result, nil, OutcomeFailed, oops.Wrapf(err, "opening %s", target))
	}
	defer func() {
		if err := s.source.CloseTarget(handle); err != nil {
			s.logger.Warn("Couldn't close %s: %v", target, err)
		}
	}()

	budget := Budget{
		MaxItems:            s.cfg.MaxItems,
		MaxRounds:           s.cfg.MaxRounds,
		StagnationThreshold: s.cfg.StagnationThreshold,
	}
	if target.Kind == TargetKindProfile {
		// The profile header renders with the first page
		budget.MaxRounds = 1
	}
	governor := NewGovernor(s.cfg, s.clock, s.logger)
	run := &runContext{
		result:     result,
		normalizer: NewNormalizer(s.clock),
		dedup:      NewDedupStore(),
		governor:   governor,
		paginator: NewPaginator(
			s.source, handle, governor, s.clock, budget, s.cfg.RoundPacing(), s.cfg.ScrollPause(),
		),
		progress: progress,
	}

	for {
		exhausted, err := s.runRound(ctx, run)
		result.Summary.Rounds = run.paginator.State().Round
		result.Summary.Retries = governor.RetriesConsumed()
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				s.logger.Info("%s cancelled after %d rounds", target, result.Summary.Rounds)
				return s.finish(span, progress, result, run, OutcomeCancelled, err)
			}
			s.logger.Error("%s failed in round %d: %v", target, result.Summary.Rounds, err)
			err = oops.Wrapf(err, "scraping %s", target)
			return s.finish(span, progress, result, run, OutcomeFailed, err)
		}
		if exhausted {
			break
		}
	}

	s.logger.Info(
		"%s exhausted (%s): %d posts, %d authors in %d rounds",
		target, run.paginator.ExhaustReason(), len(result.Posts), result.Authors.Len(),
		result.Summary.Rounds,
	)
	return s.finish(span, progress, result, run, OutcomeExhausted, nil)
}

func (s *Session) runRound(ctx context.Context, run *runContext) (exhausted bool, err error) {
	roundCtx, span := s.tracer.Start(ctx, "scrape.round")
	defer span.End()

	fragments, err := run.paginator.NextBatch(roundCtx)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	// A round that completes after cancellation is dropped whole
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, cancelled(ctxErr)
	}

	report := s.absorb(run, fragments)
	exhausted = run.paginator.Evaluate(report.NewPosts)

	state := run.paginator.State()
	report.Round = state.Round
	report.Yielded = state.Yielded
	report.Remaining = run.paginator.Remaining()
	report.Stagnant = state.Stagnant
	report.Retries = run.governor.RetriesConsumed()
	span.SetAttributes(
		attribute.Int("round", report.Round),
		attribute.Int("fragments", report.Fragments),
		attribute.Int("new_posts", report.NewPosts),
	)
	if report.NewPosts > 0 {
		run.result.Summary.ProductiveRounds++
	}
	if state.Stagnant > 0 {
		s.logger.Info("Round %d: nothing new (%d stagnant)", state.Round, state.Stagnant)
	} else {
		s.logger.Info(
			"Round %d: %d new posts, %d remaining", state.Round, report.NewPosts, report.Remaining,
		)
	}
	run.progress.LogRound(report)
	return exhausted, nil
}

// absorb normalizes and dedups one round in fragment order. Malformed fragments are logged
// and skipped the first time they are rendered, posts beyond the item budget are dropped
// along with their authors.
func (s *Session) absorb(run *runContext, fragments []RawFragment) RoundReport {
	result := run.result
	report := RoundReport{ //nolint:exhaustruct
		Target:    result.Summary.Target,
		Fragments: len(fragments),
	}
	remaining := run.paginator.Remaining()
	for i, fragment := range fragments {
		fragmentKey := FragmentKey(fragment)
		firstSight := !run.dedup.Seen(fragmentKey)
		if firstSight {
			run.dedup.Record(fragmentKey)
			result.Summary.FragmentsSeen++
		}

		record, err := run.normalizer.Normalize(fragment)
		if err != nil {
			if firstSight {
				report.Skipped++
				result.Summary.FragmentsSkipped++
				s.logger.Warn("Skipping fragment %d of round %d: %v", i, run.paginator.State().Round, err)
			}
			continue
		}

		if record.Kind != FragmentKindPost {
			if s.addAuthor(run, record) {
				report.NewAuthors++
			}
			continue
		}

		key := PostKey(record)
		if run.dedup.Seen(key) {
			report.Duplicates++
			result.Summary.Duplicates++
			continue
		}
		if report.NewPosts >= remaining {
			continue
		}
		run.dedup.Record(key)
		if s.addAuthor(run, record) {
			report.NewAuthors++
		}
		result.Posts = append(result.Posts, record.Post)
		report.NewPosts++
	}
	return report
}

// addAuthor keeps the first observation of each handle. A profile seen after the handle's
// posts doesn't replace the minimal entry built from the post header.
func (s *Session) addAuthor(run *runContext, record Record) bool {
	key := AuthorKey(record.Author.Handle)
	if run.dedup.Seen(key) {
		return false
	}
	run.dedup.Record(key)
	run.result.Authors.Set(record.Author.Handle, record.Author)
	return true
}

func (s *Session) finish(
	span trace.Span, progress *ProgressLogger, result *Result, run *runContext, outcome Outcome,
	err error,
) (*Result, error) {
	result.Outcome = outcome
	result.Summary.FinishedAt = s.clock.Now()
	if run != nil {
		result.Summary.ExhaustReason = run.paginator.ExhaustReason()
	}

	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("posts", len(result.Posts)),
		attribute.Int("rounds", result.Summary.Rounds),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	progress.LogSummary(result.Summary, outcome)
	return result, err
}
