package models

import (
	"fmt"
	"math"
	"strings"
)

// Author is keyed by Handle, which is stored without the leading @.
type Author struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio,omitempty"`
	Location    string `json:"location,omitempty"`
	Website     string `json:"website,omitempty"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	PostCount   int    `json:"post_count"`
	Verified    bool   `json:"verified"`
}

func (a *Author) ProfileUrl(baseUrl string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(baseUrl, "/"), a.Handle)
}

// FollowerRatio is +Inf for an account that follows nobody but has followers.
func (a *Author) FollowerRatio() float64 {
	if a.Following == 0 {
		if a.Followers > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return float64(a.Followers) / float64(a.Following)
}

func (a *Author) String() string {
	name := a.DisplayName
	if name == "" {
		name = a.Handle
	}
	return fmt.Sprintf("@%s (%s)", a.Handle, name)
}
