package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type PostId string

// Post is immutable once the normalizer has produced it. Counters are never negative and
// Mentions/Tags/Urls hold no duplicates, in the order they first appear in Body.
type Post struct {
	Id           PostId    `json:"id"`
	AuthorHandle string    `json:"author_handle"`
	AuthorName   string    `json:"author_name,omitempty"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
	Likes        int       `json:"likes"`
	Reposts      int       `json:"reposts"`
	Replies      int       `json:"replies"`
	Quotes       int       `json:"quotes"`
	Mentions     []string  `json:"mentions"`
	Tags         []string  `json:"tags"`
	Urls         []string  `json:"urls"`
	Locator      string    `json:"locator"`
	IsReply      bool      `json:"is_reply"`
	IsRepost     bool      `json:"is_repost"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

func (p *Post) EngagementTotal() int {
	return p.Likes + p.Reposts + p.Replies + p.Quotes
}

func (p *Post) WordCount() int {
	return len(strings.Fields(p.Body))
}

func (p *Post) CharacterCount() int {
	return utf8.RuneCountInString(p.Body)
}

func (p *Post) String() string {
	body := p.Body
	if utf8.RuneCountInString(body) > 50 {
		body = string([]rune(body)[:50]) + "..."
	}
	return fmt.Sprintf("Post by @%s at %s: %s", p.AuthorHandle, p.CreatedAt.Format(time.RFC3339), body)
}
