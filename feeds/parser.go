package feeds

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	log "github.com/sirupsen/logrus"

	"smartcommunity/models"
)

const (
	summaryLength = 100
	ellipsis      = "…"
)

// Parser turns a raw response body into feed items. The returned items have
// no origin set; the aggregator tags them.
type Parser func(raw string) ([]models.FeedItem, error)

// ParseError is returned by parsers when the body is malformed or lacks the
// fields a parser expects
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Err: fmt.Errorf(format, args...)}
}

// CommonParser parses syndication XML with a channel of items
func CommonParser(raw string) ([]models.FeedItem, error) {
	feed, err := gofeed.NewParser().ParseString(raw)
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, parseErrorf("body is not a syndication feed")
		}
		return nil, &ParseError{Err: err}
	}

	items := make([]models.FeedItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil {
			log.WithFields(log.Fields{
				"title":     item.Title,
				"published": item.Published,
			}).Warn("Skipping feed item without a parseable publication date")
			continue
		}

		description := item.Description
		if description == "" {
			description = item.Content
		}

		items = append(items, models.FeedItem{
			Title:     item.Title,
			Summary:   Summarize(description),
			Author:    itemAuthor(item),
			Img:       itemImage(item),
			Link:      item.Link,
			Published: millis(*published),
		})
	}

	return items, nil
}

// Summarize strips markup from html and truncates the text to the summary length,
// always followed by an ellipsis
func Summarize(html string) string {
	return truncate(StripMarkup(html), summaryLength) + ellipsis
}

// StripMarkup returns the text content of an HTML fragment with whitespace collapsed
func StripMarkup(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func itemAuthor(item *gofeed.Item) *string {
	if item.Author != nil && item.Author.Name != "" {
		name := item.Author.Name
		return &name
	}
	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			name := author.Name
			return &name
		}
	}
	return nil
}

func itemImage(item *gofeed.Item) *string {
	if item.Image != nil && item.Image.URL != "" {
		url := item.Image.URL
		return &url
	}
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && enclosure.URL != "" && strings.HasPrefix(enclosure.Type, "image/") {
			url := enclosure.URL
			return &url
		}
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
