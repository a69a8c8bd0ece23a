// Writes scrape results to disk as json, ndjson, csv or an html chart page.
package export

import (
	"bufio"
	"encoding/csv"
	"feedscroll/models"
	"feedscroll/oops"
	"feedscroll/scraper"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type Format string

const (
	FormatJson   Format = "json"
	FormatNdjson Format = "ndjson"
	FormatCsv    Format = "csv"
	FormatHtml   Format = "html"
)

func ParseFormat(value string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(value))); format {
	case FormatJson, FormatNdjson, FormatCsv, FormatHtml:
		return format, nil
	default:
		return "", oops.Newf("unknown output format: %q", value)
	}
}

func (f Format) Extension() string {
	return string(f)
}

// Document is the json layout of a single run.
type Document struct {
	Target  string             `json:"target"`
	Kind    string             `json:"kind"`
	Outcome scraper.Outcome    `json:"outcome"`
	Summary scraper.RunSummary `json:"summary"`
	Stats   Stats              `json:"stats"`
	Authors []models.Author    `json:"authors"`
	Posts   []models.Post      `json:"posts"`
}

func NewDocument(result *scraper.Result) Document {
	authors := make([]models.Author, 0, result.Authors.Len())
	for pair := result.Authors.Oldest(); pair != nil; pair = pair.Next() {
		authors = append(authors, pair.Value)
	}
	return Document{
		Target:  result.Summary.Target.Handle,
		Kind:    result.Summary.Target.Kind.String(),
		Outcome: result.Outcome,
		Summary: result.Summary,
		Stats:   Analyze(result.Posts, DefaultTopCount),
		Authors: authors,
		Posts:   result.Posts,
	}
}

func WriteJSON(w io.Writer, result *scraper.Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(NewDocument(result)); err != nil {
		return oops.Wrap(err)
	}
	return nil
}

// ReadJSON loads a document written by WriteJSON.
func ReadJSON(r io.Reader) (Document, error) {
	var document Document
	if err := json.NewDecoder(r).Decode(&document); err != nil {
		return Document{}, oops.Wrap(err) //nolint:exhaustruct
	}
	return document, nil
}

// WriteNDJSON writes one post per line.
func WriteNDJSON(w io.Writer, posts []models.Post) error {
	buffered := bufio.NewWriter(w)
	encoder := json.NewEncoder(buffered)
	encoder.SetEscapeHTML(false)
	for i := range posts {
		if err := encoder.Encode(&posts[i]); err != nil {
			return oops.Wrapf(err, "post %s", posts[i].Id)
		}
	}
	return oops.Wrap(buffered.Flush())
}

var csvHeader = []string{
	"id", "author_handle", "author_name", "body", "created_at", "likes", "reposts", "replies",
	"quotes", "engagement_total", "mentions", "tags", "urls", "locator", "is_reply", "is_repost",
	"scraped_at",
}

// WriteCSV flattens list fields with "|".
func WriteCSV(w io.Writer, posts []models.Post) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return oops.Wrap(err)
	}
	for i := range posts {
		post := &posts[i]
		row := []string{
			string(post.Id),
			post.AuthorHandle,
			post.AuthorName,
			post.Body,
			post.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(post.Likes),
			strconv.Itoa(post.Reposts),
			strconv.Itoa(post.Replies),
			strconv.Itoa(post.Quotes),
			strconv.Itoa(post.EngagementTotal()),
			strings.Join(post.Mentions, "|"),
			strings.Join(post.Tags, "|"),
			strings.Join(post.Urls, "|"),
			post.Locator,
			strconv.FormatBool(post.IsReply),
			strconv.FormatBool(post.IsRepost),
			post.ScrapedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return oops.Wrapf(err, "post %s", post.Id)
		}
	}
	writer.Flush()
	return oops.Wrap(writer.Error())
}

// Filename is "<kind>_<handle>_<started at>.<ext>", with the handle reduced to safe characters.
func Filename(result *scraper.Result, format Format) string {
	var handle strings.Builder
	for _, r := range result.Summary.Target.Handle {
		if r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			handle.WriteRune(r)
		}
	}
	return fmt.Sprintf(
		"%s_%s_%s.%s",
		result.Summary.Target.Kind, handle.String(),
		result.Summary.StartedAt.UTC().Format("20060102_150405"), format.Extension(),
	)
}

// WriteResult writes the result once per format into dir and returns the paths it created.
func WriteResult(dir string, formats []Format, result *scraper.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, oops.Wrapf(err, "creating %s", dir)
	}

	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, Filename(result, format))
		if err := writeFile(path, format, result); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, format Format, result *scraper.Result) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return oops.Wrap(err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = oops.Wrap(closeErr)
		}
	}()

	switch format {
	case FormatJson:
		err = WriteJSON(file, result)
	case FormatNdjson:
		err = WriteNDJSON(file, result.Posts)
	case FormatCsv:
		err = WriteCSV(file, result.Posts)
	case FormatHtml:
		err = WriteChart(file, result)
	default:
		err = oops.Newf("unknown output format: %q", format)
	}
	if err != nil {
		return oops.Wrapf(err, "writing %s", path)
	}
	return nil
}
