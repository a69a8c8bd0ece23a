package export

import (
	"feedscroll/models"
	"slices"
	"strings"
	"time"
)

const DefaultTopCount = 10

type Stats struct {
	Engagement  Engagement `json:"engagement"`
	TopTags     []Count    `json:"top_tags"`
	TopMentions []Count    `json:"top_mentions"`
	Patterns    Patterns   `json:"patterns"`
}

type Engagement struct {
	TotalPosts    int     `json:"total_posts"`
	TotalLikes    int     `json:"total_likes"`
	TotalReposts  int     `json:"total_reposts"`
	TotalReplies  int     `json:"total_replies"`
	TotalQuotes   int     `json:"total_quotes"`
	AvgLikes      float64 `json:"avg_likes"`
	AvgReposts    float64 `json:"avg_reposts"`
	AvgReplies    float64 `json:"avg_replies"`
	MaxLikes      int     `json:"max_likes"`
	MaxReposts    int     `json:"max_reposts"`
	MaxReplies    int     `json:"max_replies"`
	AvgEngagement float64 `json:"avg_engagement"`

	// Earliest post among those with the highest engagement total
	MaybeTopPostId models.PostId `json:"top_post_id,omitempty"`
}

type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type Patterns struct {
	Hourly         [24]int        `json:"hourly"`
	Daily          map[string]int `json:"daily"`
	MostActiveHour int            `json:"most_active_hour"`
	MostActiveDay  string         `json:"most_active_day"`
	DaysActive     int            `json:"days_active"`
	PostsPerDay    float64        `json:"posts_per_day"`
}

// Analyze summarizes posts the way a report would. Tags and mentions are counted
// case-insensitively and the top ones are kept, ties broken by first appearance. Posting
// patterns use UTC. MostActiveHour is -1 when there are no posts.
func Analyze(posts []models.Post, topCount int) Stats {
	return Stats{
		Engagement: analyzeEngagement(posts),
		TopTags: topCounts(posts, topCount, func(post *models.Post) []string {
			return post.Tags
		}),
		TopMentions: topCounts(posts, topCount, func(post *models.Post) []string {
			return post.Mentions
		}),
		Patterns: analyzePatterns(posts),
	}
}

func analyzeEngagement(posts []models.Post) Engagement {
	var result Engagement
	result.TotalPosts = len(posts)
	if len(posts) == 0 {
		return result
	}

	topEngagement := -1
	totalEngagement := 0
	for i := range posts {
		post := &posts[i]
		result.TotalLikes += post.Likes
		result.TotalReposts += post.Reposts
		result.TotalReplies += post.Replies
		result.TotalQuotes += post.Quotes
		result.MaxLikes = max(result.MaxLikes, post.Likes)
		result.MaxReposts = max(result.MaxReposts, post.Reposts)
		result.MaxReplies = max(result.MaxReplies, post.Replies)

		engagement := post.EngagementTotal()
		totalEngagement += engagement
		if engagement > topEngagement {
			topEngagement = engagement
			result.MaybeTopPostId = post.Id
		}
	}

	count := float64(len(posts))
	result.AvgLikes = float64(result.TotalLikes) / count
	result.AvgReposts = float64(result.TotalReposts) / count
	result.AvgReplies = float64(result.TotalReplies) / count
	result.AvgEngagement = float64(totalEngagement) / count
	return result
}

func topCounts(posts []models.Post, topCount int, values func(post *models.Post) []string) []Count {
	counts := []Count{}
	indexByValue := map[string]int{}
	for i := range posts {
		for _, value := range values(&posts[i]) {
			key := strings.ToLower(value)
			if index, ok := indexByValue[key]; ok {
				counts[index].Count++
				continue
			}
			indexByValue[key] = len(counts)
			counts = append(counts, Count{Value: key, Count: 1})
		}
	}

	slices.SortStableFunc(counts, func(a, b Count) int {
		return b.Count - a.Count
	})
	if topCount > 0 && len(counts) > topCount {
		counts = counts[:topCount]
	}
	return counts
}

func analyzePatterns(posts []models.Post) Patterns {
	patterns := Patterns{
		Hourly:         [24]int{},
		Daily:          map[string]int{},
		MostActiveHour: -1,
		MostActiveDay:  "",
		DaysActive:     0,
		PostsPerDay:    0,
	}
	if len(posts) == 0 {
		return patterns
	}

	var weekdays [7]int
	days := map[string]bool{}
	for i := range posts {
		createdAt := posts[i].CreatedAt.UTC()
		patterns.Hourly[createdAt.Hour()]++
		weekdays[createdAt.Weekday()]++
		days[createdAt.Format(time.DateOnly)] = true
	}

	for hour, count := range patterns.Hourly {
		if patterns.MostActiveHour == -1 || count > patterns.Hourly[patterns.MostActiveHour] {
			patterns.MostActiveHour = hour
		}
	}
	mostActiveWeekday := time.Sunday
	for weekday, count := range weekdays {
		if count == 0 {
			continue
		}
		patterns.Daily[time.Weekday(weekday).String()] = count
		if count > weekdays[mostActiveWeekday] {
			mostActiveWeekday = time.Weekday(weekday)
		}
	}
	patterns.MostActiveDay = mostActiveWeekday.String()
	patterns.DaysActive = len(days)
	patterns.PostsPerDay = float64(len(posts)) / float64(len(days))
	return patterns
}

// FilterByEngagement keeps posts meeting every minimum.
func FilterByEngagement(posts []models.Post, minLikes, minReposts, minReplies int) []models.Post {
	filtered := []models.Post{}
	for _, post := range posts {
		if post.Likes >= minLikes && post.Reposts >= minReposts && post.Replies >= minReplies {
			filtered = append(filtered, post)
		}
	}
	return filtered
}
