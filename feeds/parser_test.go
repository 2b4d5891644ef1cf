package feeds_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcommunity/feeds"
)

type rssItem struct {
	title       string
	link        string
	description string
	published   time.Time
	extra       string
}

func rssDocument(items ...rssItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Test</title><link>https://example.com</link><description>Test channel</description>`)
	for _, item := range items {
		b.WriteString("<item>")
		fmt.Fprintf(&b, "<title>%s</title><link>%s</link>", item.title, item.link)
		fmt.Fprintf(&b, "<description><![CDATA[%s]]></description>", item.description)
		if !item.published.IsZero() {
			fmt.Fprintf(&b, "<pubDate>%s</pubDate>", item.published.UTC().Format(time.RFC1123Z))
		}
		b.WriteString(item.extra)
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

func TestCommonParser(t *testing.T) {
	published := time.Date(2023, 5, 4, 8, 30, 0, 0, time.UTC)

	raw := rssDocument(
		rssItem{
			title:       "First",
			link:        "https://example.com/1",
			description: "<p>Hello <b>world</b></p>",
			published:   published,
			extra:       `<author>Xinhua</author><enclosure url="https://img.example.com/1.jpg" type="image/jpeg" length="0"/>`,
		},
		rssItem{
			title:       "Second",
			link:        "https://example.com/2",
			description: "plain text",
			published:   published.Add(-time.Hour),
		},
	)

	items, err := feeds.CommonParser(raw)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "First", items[0].Title)
	assert.Equal(t, "https://example.com/1", items[0].Link)
	assert.Equal(t, "Hello world…", items[0].Summary)
	assert.Equal(t, published.UnixMilli(), items[0].Published)
	require.NotNil(t, items[0].Author)
	assert.Equal(t, "Xinhua", *items[0].Author)
	require.NotNil(t, items[0].Img)
	assert.Equal(t, "https://img.example.com/1.jpg", *items[0].Img)
	assert.Empty(t, items[0].Origin)

	assert.Equal(t, "plain text…", items[1].Summary)
	assert.Nil(t, items[1].Author)
	assert.Nil(t, items[1].Img)
	assert.Equal(t, published.Add(-time.Hour).UnixMilli(), items[1].Published)
}

func TestCommonParserSkipsUndatedItems(t *testing.T) {
	raw := rssDocument(
		rssItem{title: "dated", link: "https://example.com/1", description: "x", published: time.Unix(1000, 0)},
		rssItem{title: "undated", link: "https://example.com/2", description: "y"},
		rssItem{title: "garbage date", link: "https://example.com/3", description: "z", extra: "<pubDate>garbage</pubDate>"},
	)

	items, err := feeds.CommonParser(raw)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "dated", items[0].Title)
	assert.Equal(t, int64(1000000), items[0].Published)
}

func TestCommonParserEmptyChannel(t *testing.T) {
	items, err := feeds.CommonParser(rssDocument())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCommonParserErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "empty body",
			raw:  "",
		},
		{
			name: "html page",
			raw:  "<html><body><p>Not a feed</p></body></html>",
		},
		{
			name: "plain text",
			raw:  "Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := feeds.CommonParser(tt.raw)
			assert.Nil(t, items)
			require.Error(t, err)

			var parseErr *feeds.ParseError
			assert.True(t, errors.As(err, &parseErr))
		})
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "empty",
			html:     "",
			expected: "…",
		},
		{
			name:     "markup and whitespace",
			html:     "<div>\n  <p>Line one</p>\n  <p>Line   two</p>\n</div>",
			expected: "Line one Line two…",
		},
		{
			name:     "entities",
			html:     "Fish &amp; chips",
			expected: "Fish & chips…",
		},
		{
			name:     "long ascii is cut at 100 characters",
			html:     strings.Repeat("a", 150),
			expected: strings.Repeat("a", 100) + "…",
		},
		{
			name:     "multibyte text is cut by characters",
			html:     "<p>" + strings.Repeat("新闻", 60) + "</p>",
			expected: strings.Repeat("新闻", 50) + "…",
		},
		{
			name:     "exactly 100 characters",
			html:     strings.Repeat("b", 100),
			expected: strings.Repeat("b", 100) + "…",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, feeds.Summarize(tt.html))
		})
	}
}
