package scrape

import (
	"fmt"

	"feedscroll/scraper"
)

const (
	dryRunRounds       = 4
	dryRunPostsPerPage = 10
)

// newDryRunSource serves a synthetic feed for every target. Each round renders everything
// loaded so far plus one more page, like an infinite scroll list, and then the list stops
// growing.
func newDryRunSource() *scraper.MemorySource {
	source := scraper.NewMemorySource()
	source.MaybeScriptFor = dryRunScript
	return source
}

func dryRunScript(target scraper.Target) []scraper.MemoryRound {
	profile := scraper.RawFragment{ //nolint:exhaustruct
		Kind:         scraper.FragmentKindProfile,
		AuthorHandle: "@" + target.Handle,
		AuthorName:   "Synthetic " + target.Handle,
		Bio:          "Generated for --dry-run",
		Location:     "Nowhere",
		Followers:    "1,204",
		Following:    "87",
		PostCount:    "3.1K",
	}

	var rendered []scraper.RawFragment
	if target.Kind == scraper.TargetKindProfile {
		rendered = append(rendered, profile)
	}

	var rounds []scraper.MemoryRound
	for round := 0; round < dryRunRounds; round++ {
		for i := 0; i < dryRunPostsPerPage; i++ {
			number := round*dryRunPostsPerPage + i
			rendered = append(rendered, dryRunPost(target.Handle, number))
		}
		if round == 1 {
			// A broken card in the middle of the feed
			rendered = append(rendered, scraper.RawFragment{ //nolint:exhaustruct
				Kind:         scraper.FragmentKindPost,
				AuthorHandle: "@" + target.Handle,
				Body:         "",
			})
		}
		fragments := make([]scraper.RawFragment, len(rendered))
		copy(fragments, rendered)
		rounds = append(rounds, scraper.MemoryRound{ //nolint:exhaustruct
			Fragments: fragments,
		})
	}
	return rounds
}

func dryRunPost(handle string, number int) scraper.RawFragment {
	quoted := "someone"
	if number%3 == 0 {
		quoted = "friend_of_" + handle
	}
	return scraper.RawFragment{ //nolint:exhaustruct
		Kind:         scraper.FragmentKindPost,
		AuthorHandle: "@" + handle,
		AuthorName:   "Synthetic " + handle,
		Body: fmt.Sprintf(
			"Synthetic post %d for @%s with #dryrun #post%d https://example.com/%s/%d",
			number, quoted, number%5, handle, number,
		),
		Timestamp: fmt.Sprintf("%dh", number+1),
		Likes:     fmt.Sprintf("%d", number*7),
		Reposts:   fmt.Sprintf("%d", number%4),
		Replies:   fmt.Sprintf("%d", number%6),
		Quotes:    "",
		Locator:   fmt.Sprintf("/%s/status/%d", handle, 1000+number),
		IsReply:   number%9 == 0,
	}
}
