package feeds

import (
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"smartcommunity/models"
)

// HTMLSelectors locate the parts of a news item on an HTML list page
type HTMLSelectors struct {
	Item    string
	Title   string
	Link    string
	Summary string
	Date    string
	Image   string

	// DateLayout is a Go time layout. Dates without a zone are read as UTC.
	DateLayout string
}

// HTMLParser builds a custom parser for sources that publish an HTML page
// instead of a syndication feed. Relative links are resolved against base.
func HTMLParser(base string, selectors HTMLSelectors) Parser {
	baseURL, _ := url.Parse(base)
	layout := selectors.DateLayout
	if layout == "" {
		layout = time.RFC3339
	}

	return func(raw string) ([]models.FeedItem, error) {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err != nil {
			return nil, &ParseError{Err: err}
		}

		nodes := doc.Find(selectors.Item)
		if nodes.Length() == 0 {
			return nil, parseErrorf("no element matches item selector %q", selectors.Item)
		}

		items := make([]models.FeedItem, 0, nodes.Length())
		nodes.Each(func(_ int, s *goquery.Selection) {
			title := strings.TrimSpace(find(s, selectors.Title).Text())

			dateNode := find(s, selectors.Date)
			rawDate, ok := dateNode.Attr("datetime")
			if !ok {
				rawDate = dateNode.Text()
			}
			published, err := time.Parse(layout, strings.TrimSpace(rawDate))
			if err != nil {
				log.WithFields(log.Fields{
					"title": title,
					"date":  rawDate,
				}).Warn("Skipping HTML item with unparseable date")
				return
			}

			item := models.FeedItem{
				Title:     title,
				Link:      resolve(baseURL, attr(find(s, selectors.Link), "href")),
				Published: millis(published),
			}

			if selectors.Summary != "" {
				item.Summary = truncate(strings.Join(strings.Fields(find(s, selectors.Summary).Text()), " "), summaryLength) + ellipsis
			} else {
				item.Summary = ellipsis
			}

			if selectors.Image != "" {
				if src := attr(find(s, selectors.Image), "src"); src != "" {
					img := resolve(baseURL, src)
					item.Img = &img
				}
			}

			items = append(items, item)
		})

		return items, nil
	}
}

// find returns the first match of selector below s, or s itself for an empty selector
func find(s *goquery.Selection, selector string) *goquery.Selection {
	if selector == "" {
		return s
	}
	return s.Find(selector).First()
}

func attr(s *goquery.Selection, name string) string {
	value, _ := s.Attr(name)
	return strings.TrimSpace(value)
}

func resolve(base *url.URL, ref string) string {
	if base == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
