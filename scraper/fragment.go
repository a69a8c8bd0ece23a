package scraper

import "fmt"

type FragmentKind int

const (
	FragmentKindPost FragmentKind = iota
	FragmentKindProfile
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentKindPost:
		return "post"
	case FragmentKindProfile:
		return "profile"
	default:
		panic("Unknown fragment kind")
	}
}

// RawFragment is what the rendering side hands over for one rendered item, before any
// validation. Metric fields keep the text exactly as it was displayed.
type RawFragment struct {
	Kind         FragmentKind
	AuthorHandle string
	AuthorName   string
	Verified     bool

	// Post fields
	Body      string
	Timestamp string
	Likes     string
	Reposts   string
	Replies   string
	Quotes    string
	Locator   string
	IsReply   bool
	IsRepost  bool

	// Profile fields
	Bio       string
	Location  string
	Website   string
	Followers string
	Following string
	PostCount string
}

type TargetKind int

const (
	TargetKindFeed TargetKind = iota
	TargetKindProfile
)

func (k TargetKind) String() string {
	switch k {
	case TargetKindFeed:
		return "feed"
	case TargetKindProfile:
		return "profile"
	default:
		panic("Unknown target kind")
	}
}

type Target struct {
	Kind           TargetKind
	Handle         string
	IncludeReplies bool
}

func FeedTarget(handle string) Target {
	return Target{
		Kind:           TargetKindFeed,
		Handle:         handle,
		IncludeReplies: false,
	}
}

func ProfileTarget(handle string) Target {
	return Target{
		Kind:           TargetKindProfile,
		Handle:         handle,
		IncludeReplies: false,
	}
}

func (t Target) String() string {
	return fmt.Sprintf("%s:@%s", t.Kind, t.Handle)
}

// Handle is an opened target as seen by a ContentSource. Sources type-assert their own
// concrete handles.
type Handle interface {
	Target() Target
}
