package scraper

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type DedupKind int

const (
	DedupKindPost DedupKind = iota
	DedupKindAuthor
	DedupKindFragment
)

type DedupKey struct {
	Kind  DedupKind
	Value string
}

func PostKey(record Record) DedupKey {
	return DedupKey{
		Kind:  DedupKindPost,
		Value: string(record.Post.Id),
	}
}

// FragmentKey identifies a rendered card as displayed, before validation. Infinite scroll
// pages keep rendering old cards, so a broken card comes back every round.
func FragmentKey(fragment RawFragment) DedupKey {
	hash := sha256.New()
	for _, field := range []string{
		fragment.Kind.String(), strings.ToLower(fragment.AuthorHandle), fragment.Timestamp,
		fragment.Body, fragment.Locator,
	} {
		hash.Write([]byte(field))
		hash.Write([]byte{'|'})
	}
	return DedupKey{
		Kind:  DedupKindFragment,
		Value: hex.EncodeToString(hash.Sum(nil)),
	}
}

// AuthorKey folds case, handles are case-insensitive.
func AuthorKey(handle string) DedupKey {
	return DedupKey{
		Kind:  DedupKindAuthor,
		Value: strings.ToLower(handle),
	}
}

// DedupStore remembers every identity emitted during one session. It never forgets and is
// not shared between sessions.
type DedupStore struct {
	seen map[DedupKey]struct{}
}

func NewDedupStore() *DedupStore {
	return &DedupStore{
		seen: make(map[DedupKey]struct{}),
	}
}

func (s *DedupStore) Seen(key DedupKey) bool {
	_, ok := s.seen[key]
	return ok
}

func (s *DedupStore) Record(key DedupKey) {
	s.seen[key] = struct{}{}
}

func (s *DedupStore) Len() int {
	return len(s.seen)
}
