package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParseRelativeTimestamp(t *testing.T) {
	type Test struct {
		Text     string
		Ago      time.Duration
		Expected string
	}

	tests := []Test{
		{Text: "now", Ago: 0, Expected: "rel:now"},
		{Text: "Just now", Ago: 0, Expected: "rel:now"},
		{Text: "yesterday", Ago: 24 * time.Hour, Expected: "rel:yesterday"},
		{Text: "30s", Ago: 30 * time.Second, Expected: "rel:30s"},
		{Text: "5m", Ago: 5 * time.Minute, Expected: "rel:5m"},
		{Text: "2h", Ago: 2 * time.Hour, Expected: "rel:2h"},
		{Text: "2 hours ago", Ago: 2 * time.Hour, Expected: "rel:2h"},
		{Text: "1 hour ago", Ago: time.Hour, Expected: "rel:1h"},
		{Text: "3d", Ago: 72 * time.Hour, Expected: "rel:3d"},
		{Text: "1w", Ago: 7 * 24 * time.Hour, Expected: "rel:1w"},
		{Text: "10 mins ago", Ago: 10 * time.Minute, Expected: "rel:10m"},
	}

	for _, tc := range tests {
		t.Run(tc.Text, func(t *testing.T) {
			parsed, token, err := parseTimestamp(tc.Text, testNow)
			require.NoError(t, err)
			require.Equal(t, testNow.Add(-tc.Ago), parsed)
			require.Equal(t, tc.Expected, token)
		})
	}
}

func TestParseAbsoluteTimestamp(t *testing.T) {
	expected := time.Date(2022, 10, 5, 20, 11, 50, 0, time.UTC)
	texts := []string{
		"2022-10-05T20:11:50.000Z",
		"2022-10-05T20:11:50Z",
		"2022-10-05 20:11:50",
		"Wed Oct 05 20:11:50 +0000 2022",
	}

	for _, text := range texts {
		t.Run(text, func(t *testing.T) {
			parsed, token, err := parseTimestamp(text, testNow)
			require.NoError(t, err)
			require.True(t, expected.Equal(parsed), parsed.String())
			require.Equal(t, "2022-10-05T20:11:50Z", token)
		})
	}
}

func TestParseTimestampMalformed(t *testing.T) {
	texts := []string{"", "   ", "not a date", "99999999999w", "9223372036854775808s"}
	for _, text := range texts {
		_, _, err := parseTimestamp(text, testNow)
		require.ErrorIs(t, err, ErrMalformedFragment, text)
	}
}

func TestRelativeTokenIgnoresClock(t *testing.T) {
	_, token1, err := parseTimestamp("2h", testNow)
	require.NoError(t, err)
	_, token2, err := parseTimestamp("2h", testNow.Add(17*time.Minute))
	require.NoError(t, err)
	require.Equal(t, token1, token2)
}
