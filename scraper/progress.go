package scraper

import (
	"fmt"
	"strings"
)

// RoundReport is what a session knows after evaluating one round.
type RoundReport struct {
	Target     Target
	Round      int
	Fragments  int
	NewPosts   int
	NewAuthors int
	Skipped    int
	Duplicates int
	Yielded    int
	Remaining  int
	Stagnant   int
	Retries    int
}

type ProgressSink interface {
	SaveRound(report RoundReport)
	SaveSummary(summary RunSummary, outcome Outcome)
	EmitTelemetry(regressions string, extra map[string]any)
}

// ProgressLogger condenses rounds into a status string ("+" productive, "." stagnant, "r" per
// retry) and reports counters that went the wrong way.
type ProgressLogger struct {
	ProgressSink          ProgressSink
	Status                string
	MaybePrevYielded      *int
	MaybePrevRemaining    *int
	MaybePrevRetries      *int
	MaybePrevRoundOrdinal *int
}

func NewProgressLogger(progressSink ProgressSink) *ProgressLogger {
	return &ProgressLogger{
		ProgressSink:          progressSink,
		Status:                "",
		MaybePrevYielded:      nil,
		MaybePrevRemaining:    nil,
		MaybePrevRetries:      nil,
		MaybePrevRoundOrdinal: nil,
	}
}

func (l *ProgressLogger) LogRound(report RoundReport) {
	prevRetries := 0
	if l.MaybePrevRetries != nil {
		prevRetries = *l.MaybePrevRetries
	}
	if report.Retries > prevRetries {
		l.Status += strings.Repeat("r", report.Retries-prevRetries)
	}
	if report.NewPosts > 0 {
		l.Status += "+"
	} else {
		l.Status += "."
	}

	l.ProgressSink.SaveRound(report)
	l.trackRegressions(report)
}

func (l *ProgressLogger) LogSummary(summary RunSummary, outcome Outcome) {
	switch outcome {
	case OutcomeExhausted:
		l.Status += "E"
	case OutcomeCancelled:
		l.Status += "C"
	case OutcomeFailed:
		l.Status += "F"
	}
	l.ProgressSink.SaveSummary(summary, outcome)
}

func (l *ProgressLogger) trackRegressions(report RoundReport) {
	var regressions []string
	extra := make(map[string]any)

	if l.MaybePrevRoundOrdinal != nil && report.Round != *l.MaybePrevRoundOrdinal+1 {
		regressions = append(regressions, "round_skipped")
		extra["prev_round"] = *l.MaybePrevRoundOrdinal
		extra["new_round"] = report.Round
	}
	if l.MaybePrevYielded != nil && report.Yielded < *l.MaybePrevYielded {
		regressions = append(regressions, "yielded_count_down")
		extra["prev_yielded"] = *l.MaybePrevYielded
		extra["new_yielded"] = report.Yielded
	}
	if l.MaybePrevRemaining != nil && report.Remaining > *l.MaybePrevRemaining {
		regressions = append(regressions, "remaining_count_up")
		extra["prev_remaining"] = *l.MaybePrevRemaining
		extra["new_remaining"] = report.Remaining
	}

	round, yielded, remaining, retries := report.Round, report.Yielded, report.Remaining, report.Retries
	l.MaybePrevRoundOrdinal = &round
	l.MaybePrevYielded = &yielded
	l.MaybePrevRemaining = &remaining
	l.MaybePrevRetries = &retries

	if len(regressions) > 0 {
		extra["status"] = l.Status
		l.ProgressSink.EmitTelemetry(strings.Join(regressions, ","), extra)
	}
}

type MockProgressSink struct {
	Logger       Logger
	Rounds       []RoundReport
	MaybeSummary *RunSummary
	Outcome      Outcome
	Regressions  []string
}

func NewMockProgressSink(logger Logger) *MockProgressSink {
	return &MockProgressSink{
		Logger:       logger,
		Rounds:       nil,
		MaybeSummary: nil,
		Outcome:      "",
		Regressions:  nil,
	}
}

func (s *MockProgressSink) SaveRound(report RoundReport) {
	s.Logger.Info(
		"Progress round %d: %d fragments, %d new posts, %d skipped, %d duplicates",
		report.Round, report.Fragments, report.NewPosts, report.Skipped, report.Duplicates,
	)
	s.Rounds = append(s.Rounds, report)
}

func (s *MockProgressSink) SaveSummary(summary RunSummary, outcome Outcome) {
	s.Logger.Info("Progress summary: %s %s", outcome, SprintSummary(summary))
	s.MaybeSummary = &summary
	s.Outcome = outcome
}

func (s *MockProgressSink) EmitTelemetry(regressions string, extra map[string]any) {
	s.Logger.Info("Progress regression: %s %v", regressions, extra)
	s.Regressions = append(s.Regressions, regressions)
}

func SprintSummary(summary RunSummary) string {
	return fmt.Sprintf(
		"%s rounds=%d productive=%d seen=%d skipped=%d duplicates=%d retries=%d reason=%s",
		summary.Target, summary.Rounds, summary.ProductiveRounds, summary.FragmentsSeen,
		summary.FragmentsSkipped, summary.Duplicates, summary.Retries, summary.ExhaustReason,
	)
}
