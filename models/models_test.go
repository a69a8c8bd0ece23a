package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostHelpers(t *testing.T) {
	post := Post{
		AuthorHandle: "gopher",
		Body:         "Hello   wörld from #golang",
		CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Likes:        3,
		Reposts:      2,
		Replies:      1,
		Quotes:       4,
	}

	require.Equal(t, 10, post.EngagementTotal())
	require.Equal(t, 4, post.WordCount())
	require.Equal(t, 26, post.CharacterCount())
	require.Equal(t, "Post by @gopher at 2024-03-01T12:00:00Z: Hello   wörld from #golang", post.String())
}

func TestAuthorHelpers(t *testing.T) {
	author := Author{Handle: "gopher", Followers: 10, Following: 4}
	require.Equal(t, "https://x.com/gopher", author.ProfileUrl("https://x.com/"))
	require.Equal(t, 2.5, author.FollowerRatio())
	require.Equal(t, "@gopher (gopher)", author.String())

	lonely := Author{Handle: "lonely"}
	require.Equal(t, 0.0, lonely.FollowerRatio())

	popular := Author{Handle: "popular", Followers: 5}
	require.True(t, math.IsInf(popular.FollowerRatio(), 1))
}
