//go:build testing

package export

import (
	"bytes"
	"feedscroll/models"
	"feedscroll/oops"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeEngagement(t *testing.T) {
	posts := []models.Post{
		testPost("p1", "alice", "one", testStart, 5),
		testPost("p2", "alice", "two", testStart, 17),
		testPost("p3", "bob", "three", testStart, 17),
	}
	posts[2].Quotes = 4

	stats := Analyze(posts, DefaultTopCount)
	engagement := stats.Engagement
	require.Equal(t, 3, engagement.TotalPosts)
	require.Equal(t, 39, engagement.TotalLikes)
	require.Equal(t, 3, engagement.TotalReposts)
	require.Equal(t, 6, engagement.TotalReplies)
	require.Equal(t, 4, engagement.TotalQuotes)
	require.InDelta(t, 13.0, engagement.AvgLikes, 1e-9)
	require.Equal(t, 17, engagement.MaxLikes)
	require.InDelta(t, 52.0/3, engagement.AvgEngagement, 1e-9)
	require.Equal(t, models.PostId("p3"), engagement.MaybeTopPostId)
}

func TestAnalyzeEmpty(t *testing.T) {
	stats := Analyze(nil, DefaultTopCount)
	require.Zero(t, stats.Engagement.TotalPosts)
	require.Empty(t, stats.Engagement.MaybeTopPostId)
	require.Empty(t, stats.TopTags)
	require.Equal(t, -1, stats.Patterns.MostActiveHour)
	require.Empty(t, stats.Patterns.MostActiveDay)
	require.Zero(t, stats.Patterns.PostsPerDay)
}

func TestAnalyzeTopCounts(t *testing.T) {
	type Test struct {
		description string
		topCount    int
		expected    []Count
	}

	posts := []models.Post{
		testPost("p1", "alice", "one", testStart, 0),
		testPost("p2", "alice", "two", testStart, 0),
		testPost("p3", "alice", "three", testStart, 0),
	}
	posts[0].Tags = []string{"Go", "rust"}
	posts[1].Tags = []string{"zig", "go"}
	posts[2].Tags = []string{"ZIG", "GO", "ocaml"}

	tests := []Test{
		{"all", 0, []Count{{"go", 3}, {"zig", 2}, {"rust", 1}, {"ocaml", 1}}},
		{"top two", 2, []Count{{"go", 3}, {"zig", 2}}},
		{"ties keep first appearance", 3, []Count{{"go", 3}, {"zig", 2}, {"rust", 1}}},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			stats := Analyze(posts, tc.topCount)
			require.Equal(t, tc.expected, stats.TopTags)
			require.Empty(t, stats.TopMentions)
		})
	}
}

func TestAnalyzePatterns(t *testing.T) {
	sunday := time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)
	monday := sunday.AddDate(0, 0, 1)
	posts := []models.Post{
		testPost("p1", "alice", "one", sunday, 0),
		testPost("p2", "alice", "two", monday.Add(5*time.Hour), 0),
		testPost("p3", "alice", "three", monday.Add(time.Minute), 0),
		testPost("p4", "alice", "four", monday.Add(2*time.Minute).In(time.FixedZone("X", 3*3600)), 0),
	}

	patterns := Analyze(posts, DefaultTopCount).Patterns
	require.Equal(t, 3, patterns.Hourly[9])
	require.Equal(t, 1, patterns.Hourly[14])
	require.Equal(t, 9, patterns.MostActiveHour)
	require.Equal(t, map[string]int{"Sunday": 1, "Monday": 3}, patterns.Daily)
	require.Equal(t, "Monday", patterns.MostActiveDay)
	require.Equal(t, 2, patterns.DaysActive)
	require.InDelta(t, 2.0, patterns.PostsPerDay, 1e-9)
}

func TestFilterByEngagement(t *testing.T) {
	posts := []models.Post{
		testPost("p1", "alice", "one", testStart, 5),
		testPost("p2", "alice", "two", testStart, 50),
	}
	posts[1].Replies = 0

	require.Len(t, FilterByEngagement(posts, 0, 0, 0), 2)
	filtered := FilterByEngagement(posts, 10, 0, 0)
	require.Len(t, filtered, 1)
	require.Equal(t, models.PostId("p2"), filtered[0].Id)
	require.Empty(t, FilterByEngagement(posts, 10, 0, 1))
}

func TestDocumentCarriesStats(t *testing.T) {
	var buf bytes.Buffer
	err := WriteJSON(&buf, testResult())
	oops.RequireNoError(t, err)

	document, err := ReadJSON(&buf)
	oops.RequireNoError(t, err)
	require.Equal(t, models.PostId("p2"), document.Stats.Engagement.MaybeTopPostId)
	require.Equal(t, []Count{{"alice", 1}}, document.Stats.TopMentions)
	require.Equal(t, []Count{{"go", 1}, {"scraping", 1}}, document.Stats.TopTags)
}
