package scraper

import (
	"html"
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"
)

var handleRegex *regexp.Regexp
var mentionRegex *regexp2.Regexp
var tagRegex *regexp2.Regexp
var urlRegex *regexp2.Regexp

func init() {
	handleRegex = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	// Lookbehinds keep e-mail addresses and html entities out
	mentionRegex = regexp2.MustCompile(`(?<![\w@])@([A-Za-z0-9_]{1,15})(?![A-Za-z0-9_])`, regexp2.None)
	tagRegex = regexp2.MustCompile(`(?<![\w#&])#([\p{L}\p{N}_]+)`, regexp2.None)
	urlRegex = regexp2.MustCompile(`https?://[^\s<>"']+`, regexp2.IgnoreCase)
}

// cleanText unescapes entities, applies NFKC and collapses whitespace.
func cleanText(text string) string {
	if text == "" {
		return ""
	}
	text = html.UnescapeString(text)
	text = norm.NFKC.String(text)
	return strings.Join(strings.Fields(text), " ")
}

func NormalizeHandle(handle string) (string, bool) {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(handle, "@")
	if !handleRegex.MatchString(handle) {
		return "", false
	}
	return handle, true
}

func extractMentions(text string) []string {
	return findUniqueGroups(mentionRegex, text)
}

func extractTags(text string) []string {
	return findUniqueGroups(tagRegex, text)
}

func extractUrls(text string) []string {
	var result []string
	seen := make(map[string]bool)
	match, err := urlRegex.FindStringMatch(text)
	for err == nil && match != nil {
		url := strings.TrimRight(match.String(), ".,;:!?)]}…")
		if !seen[url] {
			seen[url] = true
			result = append(result, url)
		}
		match, err = urlRegex.FindNextMatch(match)
	}
	return result
}

// findUniqueGroups collects the first group of every match, case-insensitively unique, in
// first-seen order and with the casing of the first occurrence.
func findUniqueGroups(regex *regexp2.Regexp, text string) []string {
	result := []string{}
	seen := make(map[string]bool)
	match, err := regex.FindStringMatch(text)
	for err == nil && match != nil {
		token := match.GroupByNumber(1).String()
		key := strings.ToLower(token)
		if !seen[key] {
			seen[key] = true
			result = append(result, token)
		}
		match, err = regex.FindNextMatch(match)
	}
	return result
}
