package scraper

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"feedscroll/oops"
)

var articleXPath *xpath.Expr
var userNameXPath *xpath.Expr
var userHandleXPath *xpath.Expr
var userLinkXPath *xpath.Expr
var verifiedXPath *xpath.Expr
var bodyXPath *xpath.Expr
var timeXPath *xpath.Expr
var statusLinkXPath *xpath.Expr
var replyingToXPath *xpath.Expr
var socialContextXPath *xpath.Expr
var metricXPaths map[string]*xpath.Expr

var profileHeaderXPath *xpath.Expr
var profileBioXPath *xpath.Expr
var profileLocationXPath *xpath.Expr
var profileWebsiteXPath *xpath.Expr
var profileFollowersXPath *xpath.Expr
var profileFollowingXPath *xpath.Expr
var profilePostCountXPath *xpath.Expr

func init() {
	articleXPath = xpath.MustCompile(`//article[@data-testid='tweet']`)
	userNameXPath = xpath.MustCompile(
		`descendant-or-self::div[@data-testid='User-Name' or @data-testid='UserName']//a//span`,
	)
	userHandleXPath = xpath.MustCompile(
		`descendant-or-self::div[@data-testid='User-Name' or @data-testid='UserName']` +
			`//span[starts-with(normalize-space(.), '@')]`,
	)
	userLinkXPath = xpath.MustCompile(`.//div[@data-testid='User-Name']//a[starts-with(@href, '/')]`)
	verifiedXPath = xpath.MustCompile(`.//*[@data-testid='icon-verified']`)
	bodyXPath = xpath.MustCompile(`.//div[@data-testid='tweetText']`)
	timeXPath = xpath.MustCompile(`.//time`)
	statusLinkXPath = xpath.MustCompile(`.//a[contains(@href, '/status/')]`)
	replyingToXPath = xpath.MustCompile(`.//div[starts-with(normalize-space(.), 'Replying to')]`)
	socialContextXPath = xpath.MustCompile(`.//*[@data-testid='socialContext']`)
	metricXPaths = map[string]*xpath.Expr{
		"reply":   xpath.MustCompile(`.//*[@data-testid='reply']`),
		"retweet": xpath.MustCompile(`.//*[@data-testid='retweet' or @data-testid='unretweet']`),
		"like":    xpath.MustCompile(`.//*[@data-testid='like' or @data-testid='unlike']`),
		"quote":   xpath.MustCompile(`.//a[contains(@href, '/quotes')]`),
	}

	profileHeaderXPath = xpath.MustCompile(`//div[@data-testid='UserName']`)
	profileBioXPath = xpath.MustCompile(`//div[@data-testid='UserDescription']`)
	profileLocationXPath = xpath.MustCompile(`//*[@data-testid='UserLocation']`)
	profileWebsiteXPath = xpath.MustCompile(`//*[@data-testid='UserUrl']`)
	profileFollowersXPath = xpath.MustCompile(
		`//a[contains(@href, '/followers') or contains(@href, '/verified_followers')]`,
	)
	profileFollowingXPath = xpath.MustCompile(`//a[contains(@href, '/following')]`)
	profilePostCountXPath = xpath.MustCompile(
		`//div[@data-testid='primaryColumn']//h2/following-sibling::div[contains(., 'post')]`,
	)
}

// ParseFragments parses a rendered feed page. The profile header, when present, comes first,
// followed by posts in document order.
func ParseFragments(content string) ([]RawFragment, error) {
	document, err := htmlquery.Parse(strings.NewReader(content))
	if err != nil {
		return nil, oops.Wrap(err)
	}
	return ExtractFragments(document), nil
}

func ExtractFragments(document *html.Node) []RawFragment {
	var fragments []RawFragment
	if profile, ok := extractProfile(document); ok {
		fragments = append(fragments, profile)
	}
	for _, article := range htmlquery.QuerySelectorAll(document, articleXPath) {
		fragments = append(fragments, extractPost(article))
	}
	return fragments
}

func extractPost(article *html.Node) RawFragment {
	fragment := RawFragment{ //nolint:exhaustruct
		Kind:         FragmentKindPost,
		AuthorHandle: findHandle(article),
		AuthorName:   findText(article, userNameXPath),
		Verified:     htmlquery.QuerySelector(article, verifiedXPath) != nil,
		Body:         findText(article, bodyXPath),
		Likes:        findMetric(article, "like"),
		Reposts:      findMetric(article, "retweet"),
		Replies:      findMetric(article, "reply"),
		Quotes:       findMetric(article, "quote"),
		IsReply:      htmlquery.QuerySelector(article, replyingToXPath) != nil,
	}

	if timeNode := htmlquery.QuerySelector(article, timeXPath); timeNode != nil {
		fragment.Timestamp = htmlquery.SelectAttr(timeNode, "datetime")
		if fragment.Timestamp == "" {
			fragment.Timestamp = htmlquery.InnerText(timeNode)
		}
		// The permalink wraps the timestamp
		if timeNode.Parent != nil && timeNode.Parent.Data == "a" {
			fragment.Locator = htmlquery.SelectAttr(timeNode.Parent, "href")
		}
	}
	if fragment.Locator == "" {
		if link := htmlquery.QuerySelector(article, statusLinkXPath); link != nil {
			fragment.Locator = htmlquery.SelectAttr(link, "href")
		}
	}

	if social := htmlquery.QuerySelector(article, socialContextXPath); social != nil {
		text := strings.ToLower(htmlquery.InnerText(social))
		fragment.IsRepost = strings.Contains(text, "repost") || strings.Contains(text, "retweet")
	}
	return fragment
}

func extractProfile(document *html.Node) (RawFragment, bool) {
	header := htmlquery.QuerySelector(document, profileHeaderXPath)
	if header == nil {
		return RawFragment{}, false
	}

	fragment := RawFragment{ //nolint:exhaustruct
		Kind:         FragmentKindProfile,
		AuthorHandle: findHandle(header),
		AuthorName:   findText(header, userNameXPath),
		Verified:     htmlquery.QuerySelector(header, verifiedXPath) != nil,
		Bio:          findText(document, profileBioXPath),
		Location:     findText(document, profileLocationXPath),
		Followers:    findText(document, profileFollowersXPath),
		Following:    findText(document, profileFollowingXPath),
		PostCount:    findText(document, profilePostCountXPath),
	}
	if fragment.AuthorName == "" {
		// Profile headers don't always link the name
		if span := htmlquery.FindOne(header, ".//span"); span != nil {
			fragment.AuthorName = strings.TrimSpace(htmlquery.InnerText(span))
		}
	}
	if website := htmlquery.QuerySelector(document, profileWebsiteXPath); website != nil {
		fragment.Website = htmlquery.SelectAttr(website, "href")
		if fragment.Website == "" {
			fragment.Website = strings.TrimSpace(htmlquery.InnerText(website))
		}
	}
	return fragment, true
}

func findHandle(node *html.Node) string {
	if span := htmlquery.QuerySelector(node, userHandleXPath); span != nil {
		return strings.TrimSpace(htmlquery.InnerText(span))
	}
	if link := htmlquery.QuerySelector(node, userLinkXPath); link != nil {
		href := strings.Trim(htmlquery.SelectAttr(link, "href"), "/")
		if !strings.Contains(href, "/") {
			return href
		}
	}
	return ""
}

func findText(node *html.Node, expr *xpath.Expr) string {
	found := htmlquery.QuerySelector(node, expr)
	if found == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(found))
}

// findMetric prefers the visible counter and falls back to the aria-label ("12 Likes. Like").
func findMetric(article *html.Node, name string) string {
	node := htmlquery.QuerySelector(article, metricXPaths[name])
	if node == nil {
		return ""
	}
	if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
		return text
	}
	return htmlquery.SelectAttr(node, "aria-label")
}
