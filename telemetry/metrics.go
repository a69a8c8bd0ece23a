package telemetry

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feedscroll/log"
	"feedscroll/scraper"
)

// Recorder turns session progress into prometheus metrics. One recorder is shared by every
// session of the process.
type Recorder struct {
	Registry        *prometheus.Registry
	rounds          *prometheus.CounterVec
	posts           *prometheus.CounterVec
	authors         prometheus.Counter
	skipped         prometheus.Counter
	duplicates      prometheus.Counter
	retries         prometheus.Counter
	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	regressions     *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		Registry: registry,
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_rounds_total",
			Help: "Fetch rounds evaluated, by target kind.",
		}, []string{"kind"}),
		posts: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_posts_total",
			Help: "New posts accepted after dedup, by target kind.",
		}, []string{"kind"}),
		authors: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_authors_total",
			Help: "New authors recorded.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_fragments_skipped_total",
			Help: "Malformed fragments skipped.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_duplicates_total",
			Help: "Posts suppressed by dedup.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_fetch_retries_total",
			Help: "Fetch attempts retried after a transient failure.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_sessions_total",
			Help: "Finished sessions, by outcome.",
		}, []string{"outcome"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{ //nolint:exhaustruct
			Name:    "feedscroll_session_duration_seconds",
			Help:    "Wall time of finished sessions.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		regressions: prometheus.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "feedscroll_progress_regressions_total",
			Help: "Progress counters that moved the wrong way.",
		}, []string{"regression"}),
	}
	registry.MustRegister(
		recorder.rounds, recorder.posts, recorder.authors, recorder.skipped, recorder.duplicates,
		recorder.retries, recorder.sessions, recorder.sessionDuration, recorder.regressions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)
	return recorder
}

func (r *Recorder) SaveRound(report scraper.RoundReport) {
	kind := report.Target.Kind.String()
	r.rounds.WithLabelValues(kind).Inc()
	r.posts.WithLabelValues(kind).Add(float64(report.NewPosts))
	r.authors.Add(float64(report.NewAuthors))
	r.skipped.Add(float64(report.Skipped))
	r.duplicates.Add(float64(report.Duplicates))
}

func (r *Recorder) SaveSummary(summary scraper.RunSummary, outcome scraper.Outcome) {
	r.sessions.WithLabelValues(string(outcome)).Inc()
	r.retries.Add(float64(summary.Retries))
	r.sessionDuration.Observe(summary.Duration().Seconds())
}

func (r *Recorder) EmitTelemetry(regressions string, extra map[string]any) {
	for _, regression := range strings.Split(regressions, ",") {
		r.regressions.WithLabelValues(regression).Inc()
	}
	log.Warn().Fields(extra).Str("regressions", regressions).Msg("Progress regression")
}

// Tee fans progress out to several sinks, e.g. the recorder and a per-session logger.
type Tee []scraper.ProgressSink

func (t Tee) SaveRound(report scraper.RoundReport) {
	for _, sink := range t {
		sink.SaveRound(report)
	}
}

func (t Tee) SaveSummary(summary scraper.RunSummary, outcome scraper.Outcome) {
	for _, sink := range t {
		sink.SaveSummary(summary, outcome)
	}
}

func (t Tee) EmitTelemetry(regressions string, extra map[string]any) {
	for _, sink := range t {
		sink.EmitTelemetry(regressions, extra)
	}
}
