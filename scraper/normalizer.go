package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"feedscroll/models"
)

// Record is a validated fragment. Post records also carry the minimal author seen in the post
// header, profile records carry only the author.
type Record struct {
	Kind   FragmentKind
	Post   models.Post
	Author models.Author
}

type Normalizer struct {
	clock Clock
}

func NewNormalizer(clock Clock) *Normalizer {
	return &Normalizer{
		clock: clock,
	}
}

func (n *Normalizer) Normalize(fragment RawFragment) (Record, error) {
	switch fragment.Kind {
	case FragmentKindPost:
		return n.normalizePost(fragment)
	case FragmentKindProfile:
		return n.normalizeProfile(fragment)
	default:
		return Record{}, malformed("unknown fragment kind %d", fragment.Kind)
	}
}

func (n *Normalizer) normalizePost(fragment RawFragment) (Record, error) {
	handle, ok := NormalizeHandle(fragment.AuthorHandle)
	if !ok {
		if strings.TrimSpace(fragment.AuthorHandle) == "" {
			return Record{}, malformed("missing author handle")
		}
		return Record{}, malformed("invalid author handle %q", fragment.AuthorHandle)
	}

	body := cleanText(fragment.Body)
	if body == "" {
		return Record{}, malformed("missing body for @%s", handle)
	}

	now := n.clock.Now()
	createdAt, canonicalTime, err := parseTimestamp(fragment.Timestamp, now)
	if err != nil {
		return Record{}, err
	}

	authorName := cleanText(fragment.AuthorName)
	post := models.Post{
		Id:           PostIdentity(handle, canonicalTime, body),
		AuthorHandle: handle,
		AuthorName:   authorName,
		Body:         body,
		CreatedAt:    createdAt,
		Likes:        parseCount(fragment.Likes),
		Reposts:      parseCount(fragment.Reposts),
		Replies:      parseCount(fragment.Replies),
		Quotes:       parseCount(fragment.Quotes),
		Mentions:     extractMentions(body),
		Tags:         extractTags(body),
		Urls:         extractUrls(body),
		Locator:      strings.TrimSpace(fragment.Locator),
		IsReply:      fragment.IsReply,
		IsRepost:     fragment.IsRepost,
		ScrapedAt:    now,
	}
	author := models.Author{ //nolint:exhaustruct
		Handle:      handle,
		DisplayName: authorName,
		Verified:    fragment.Verified,
	}
	return Record{
		Kind:   FragmentKindPost,
		Post:   post,
		Author: author,
	}, nil
}

func (n *Normalizer) normalizeProfile(fragment RawFragment) (Record, error) {
	handle, ok := NormalizeHandle(fragment.AuthorHandle)
	if !ok {
		if strings.TrimSpace(fragment.AuthorHandle) == "" {
			return Record{}, malformed("missing profile handle")
		}
		return Record{}, malformed("invalid profile handle %q", fragment.AuthorHandle)
	}

	author := models.Author{
		Handle:      handle,
		DisplayName: cleanText(fragment.AuthorName),
		Bio:         cleanText(fragment.Bio),
		Location:    cleanText(fragment.Location),
		Website:     strings.TrimSpace(fragment.Website),
		Followers:   parseCount(fragment.Followers),
		Following:   parseCount(fragment.Following),
		PostCount:   parseCount(fragment.PostCount),
		Verified:    fragment.Verified,
	}
	return Record{ //nolint:exhaustruct
		Kind:   FragmentKindProfile,
		Author: author,
	}, nil
}

// PostIdentity hashes what identifies a post regardless of when it was scraped: the
// case-folded handle, the canonical timestamp token and the cleaned body.
func PostIdentity(handle, canonicalTime, body string) models.PostId {
	hash := sha256.New()
	hash.Write([]byte(strings.ToLower(handle)))
	hash.Write([]byte{'|'})
	hash.Write([]byte(canonicalTime))
	hash.Write([]byte{'|'})
	hash.Write([]byte(body))
	return models.PostId(hex.EncodeToString(hash.Sum(nil)))
}
