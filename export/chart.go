package export

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"feedscroll/oops"
	"feedscroll/scraper"
)

// WriteChart renders the activity and hashtag breakdown of a run as a standalone html page.
func WriteChart(w io.Writer, result *scraper.Result) error {
	document := NewDocument(result)
	stats := document.Stats
	title := fmt.Sprintf("%s:@%s", document.Kind, document.Target)

	hourly := charts.NewBar()
	hourly.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{ //nolint:exhaustruct
			Title:    "Posts by hour (UTC)",
			Subtitle: fmt.Sprintf("%s, %d posts", title, stats.Engagement.TotalPosts),
		}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}), //nolint:exhaustruct
	)
	hours := make([]string, 0, len(stats.Patterns.Hourly))
	hourlyData := make([]opts.BarData, 0, len(stats.Patterns.Hourly))
	for hour, count := range stats.Patterns.Hourly {
		hours = append(hours, fmt.Sprintf("%02d", hour))
		hourlyData = append(hourlyData, opts.BarData{Value: count}) //nolint:exhaustruct
	}
	hourly.SetXAxis(hours).AddSeries("Posts", hourlyData)

	daily := charts.NewBar()
	daily.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Posts by weekday (UTC)"}), //nolint:exhaustruct
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}), //nolint:exhaustruct
	)
	var weekdays []string
	var dailyData []opts.BarData
	for weekday := time.Sunday; weekday <= time.Saturday; weekday++ {
		weekdays = append(weekdays, weekday.String()[:3])
		dailyData = append(dailyData, opts.BarData{Value: stats.Patterns.Daily[weekday.String()]}) //nolint:exhaustruct
	}
	daily.SetXAxis(weekdays).AddSeries("Posts", dailyData)

	page := components.NewPage()
	page.SetPageTitle(title)
	page.AddCharts(hourly, daily)

	if len(stats.TopTags) > 0 {
		tags := charts.NewPie()
		tags.SetGlobalOptions(
			charts.WithTitleOpts(opts.Title{Title: "Top hashtags"}), //nolint:exhaustruct
			charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}), //nolint:exhaustruct
		)
		var tagItems []opts.PieData
		for _, tag := range stats.TopTags {
			tagItems = append(tagItems, opts.PieData{Name: "#" + tag.Value, Value: tag.Count}) //nolint:exhaustruct
		}
		tags.AddSeries("Hashtags", tagItems)
		page.AddCharts(tags)
	}

	if err := page.Render(w); err != nil {
		return oops.Wrap(err)
	}
	return nil
}
