package scrape

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"feedscroll/oops"
	"feedscroll/scraper"
)

type reportCounts struct {
	Exhausted int
	Cancelled int
	Failed    int
}

// writeReport prints one row per target and returns how the targets ended.
func writeReport(w io.Writer, results []TargetResult) (reportCounts, error) {
	var counts reportCounts
	t := table.NewWriter()
	style := table.StyleLight
	style.Options.DrawBorder = false
	style.Options.SeparateColumns = false
	style.Options.SeparateHeader = false
	t.SetStyle(style)
	t.AppendHeader(table.Row{"Target", "Outcome", "Posts", "Authors", "Rounds", "Reason", "Duration", "Error"})

	for _, targetResult := range results {
		outcome := scraper.OutcomeFailed
		posts, authors, rounds := 0, 0, 0
		reason, duration := "", ""
		if result := targetResult.Result; result != nil {
			outcome = result.Outcome
			posts = len(result.Posts)
			authors = result.Authors.Len()
			rounds = result.Summary.Rounds
			reason = string(result.Summary.ExhaustReason)
			duration = result.Summary.Duration().String()
		}
		switch outcome {
		case scraper.OutcomeExhausted:
			counts.Exhausted++
		case scraper.OutcomeCancelled:
			counts.Cancelled++
		case scraper.OutcomeFailed:
			counts.Failed++
		}

		errText := ""
		if targetResult.Err != nil {
			errText = targetResult.Err.Error()
		}
		t.AppendRow(table.Row{
			targetResult.Target.String(), string(outcome), posts, authors, rounds, reason, duration, errText,
		})
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return counts, oops.Wrap(err)
	}
	return counts, nil
}
