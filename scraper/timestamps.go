package scraper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var relativeRegex = regexp.MustCompile(
	`^(\d+)\s*(s|secs?|seconds?|m|mins?|minutes?|h|hrs?|hours?|d|days?|w|wks?|weeks?)(?:\s+ago)?$`,
)

var relativeUnits = map[string]struct {
	Token    string
	Duration time.Duration
}{
	"s": {"s", time.Second},
	"m": {"m", time.Minute},
	"h": {"h", time.Hour},
	"d": {"d", 24 * time.Hour},
	"w": {"w", 7 * 24 * time.Hour},
}

// parseTimestamp resolves a displayed timestamp against now. Alongside the instant it returns
// a canonical token that stays the same every time the same text is parsed: RFC3339 UTC for
// absolute timestamps, "rel:<n><unit>" for relative ones.
func parseTimestamp(text string, now time.Time) (time.Time, string, error) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return time.Time{}, "", malformed("missing timestamp")
	}

	lower := strings.ToLower(text)
	switch lower {
	case "now", "just now":
		return now, "rel:now", nil
	case "yesterday":
		return now.Add(-24 * time.Hour), "rel:yesterday", nil
	}

	if match := relativeRegex.FindStringSubmatch(lower); match != nil {
		amount, err := strconv.Atoi(match[1])
		if err != nil {
			return time.Time{}, "", malformed("relative timestamp out of range: %q", text)
		}
		unit, ok := relativeUnits[normalizeRelativeUnit(match[2])]
		if !ok {
			return time.Time{}, "", malformed("unknown relative unit: %q", text)
		}
		if int64(amount) > math.MaxInt64/int64(unit.Duration) {
			return time.Time{}, "", malformed("relative timestamp out of range: %q", text)
		}
		token := fmt.Sprintf("rel:%d%s", amount, unit.Token)
		return now.Add(-time.Duration(amount) * unit.Duration), token, nil
	}

	parsed, err := dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return time.Time{}, "", malformed("unparsable timestamp %q: %v", text, err)
	}
	// "Oct 5" style dates omit the year when it's the current one
	if parsed.Year() == 0 {
		parsed = parsed.AddDate(now.Year(), 0, 0)
		if parsed.After(now) {
			parsed = parsed.AddDate(-1, 0, 0)
		}
	}
	parsed = parsed.UTC()
	return parsed, parsed.Format(time.RFC3339), nil
}

func normalizeRelativeUnit(unit string) string {
	switch {
	case strings.HasPrefix(unit, "s"):
		return "s"
	case strings.HasPrefix(unit, "m"):
		return "m"
	case strings.HasPrefix(unit, "h"):
		return "h"
	case strings.HasPrefix(unit, "d"):
		return "d"
	case strings.HasPrefix(unit, "w"):
		return "w"
	default:
		return ""
	}
}
