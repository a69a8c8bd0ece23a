package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"feedscroll/config"
	"feedscroll/scraper"
)

func TestRecorderCountsSessions(t *testing.T) {
	recorder := NewRecorder()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	source := scraper.NewMemorySource(
		scraper.MemoryRound{Fragments: []scraper.RawFragment{ //nolint:exhaustruct
			{Kind: scraper.FragmentKindPost, AuthorHandle: "alice", Body: "one", Timestamp: "1h"},
			{Kind: scraper.FragmentKindPost, AuthorHandle: "alice", Body: "two", Timestamp: "2h"},
			{Kind: scraper.FragmentKindPost, AuthorHandle: "", Body: "orphan", Timestamp: "2h"},
		}},
	)
	cfg := config.Default().Scrape
	cfg.StagnationThreshold = 1
	session := scraper.NewSession(
		source, cfg, scraper.WithClock(scraper.NewFakeClock(now)), scraper.WithProgressSink(recorder),
	)

	result, err := session.Run(context.Background(), scraper.FeedTarget("alice"))
	require.NoError(t, err)
	require.Len(t, result.Posts, 2)

	require.Equal(t, 2.0, testutil.ToFloat64(recorder.rounds.WithLabelValues("feed")))
	require.Equal(t, 2.0, testutil.ToFloat64(recorder.posts.WithLabelValues("feed")))
	require.Equal(t, 1.0, testutil.ToFloat64(recorder.authors))
	require.Equal(t, 2.0, testutil.ToFloat64(recorder.skipped))
	require.Equal(t, 2.0, testutil.ToFloat64(recorder.duplicates))
	require.Equal(t, 1.0, testutil.ToFloat64(recorder.sessions.WithLabelValues("exhausted")))
}

func TestRecorderRegressions(t *testing.T) {
	recorder := NewRecorder()
	recorder.EmitTelemetry("round_skipped,yielded_count_down", map[string]any{"prev_round": 1})
	require.Equal(t, 1.0, testutil.ToFloat64(recorder.regressions.WithLabelValues("round_skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(recorder.regressions.WithLabelValues("yielded_count_down")))
}

func TestTeeFansOut(t *testing.T) {
	sink1 := scraper.NewMockProgressSink(scraper.NewDummyLogger())
	sink2 := scraper.NewMockProgressSink(scraper.NewDummyLogger())
	tee := Tee{sink1, sink2}

	tee.SaveRound(scraper.RoundReport{Round: 1}) //nolint:exhaustruct
	tee.SaveSummary(scraper.RunSummary{}, scraper.OutcomeCancelled) //nolint:exhaustruct
	tee.EmitTelemetry("round_skipped", nil)
	for _, sink := range []*scraper.MockProgressSink{sink1, sink2} {
		require.Len(t, sink.Rounds, 1)
		require.Equal(t, scraper.OutcomeCancelled, sink.Outcome)
		require.Equal(t, []string{"round_skipped"}, sink.Regressions)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	recorder := NewRecorder()
	recorder.SaveRound(scraper.RoundReport{Target: scraper.FeedTarget("alice"), NewPosts: 3}) //nolint:exhaustruct
	router := NewRouter(recorder, nil)

	response := httptest.NewRecorder()
	router.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, response.Code)
	require.Contains(t, response.Body.String(), `feedscroll_posts_total{kind="feed"} 3`)

	response = httptest.NewRecorder()
	router.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "ok\n", response.Body.String())
}

func TestSetupTracingWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.Default().Telemetry)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestProgressHubStreamsEvents(t *testing.T) {
	hub := NewProgressHub()
	server := httptest.NewServer(NewRouter(NewRecorder(), hub))
	defer server.Close()

	wsUrl := "ws" + strings.TrimPrefix(server.URL, "http") + "/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.SaveRound(scraper.RoundReport{ //nolint:exhaustruct
		Target:   scraper.FeedTarget("alice"),
		Round:    2,
		NewPosts: 5,
		Yielded:  12,
	})
	hub.SaveSummary(scraper.RunSummary{ //nolint:exhaustruct
		Target:        scraper.FeedTarget("alice"),
		Rounds:        4,
		ExhaustReason: scraper.ExhaustReasonStagnation,
	}, scraper.OutcomeExhausted)

	var events []ProgressEvent
	for range 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		var event ProgressEvent
		require.NoError(t, json.Unmarshal(message, &event))
		events = append(events, event)
	}
	require.Equal(t, "round", events[0].Type)
	require.Equal(t, "feed:@alice", events[0].Target)
	require.Equal(t, 5, events[0].NewPosts)
	require.Equal(t, 12, events[0].Yielded)
	require.Equal(t, "summary", events[1].Type)
	require.Equal(t, "exhausted", events[1].Outcome)
	require.Equal(t, "stagnation", events[1].Reason)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestProgressHubWithoutClients(t *testing.T) {
	hub := NewProgressHub()
	hub.SaveRound(scraper.RoundReport{Round: 1}) //nolint:exhaustruct
	hub.EmitTelemetry("round_skipped", nil)
	require.Equal(t, 0, hub.ClientCount())
}
