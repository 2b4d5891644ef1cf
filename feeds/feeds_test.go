package feeds_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcommunity/feeds"
	"smartcommunity/models"
)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.bodies[url], nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func at(seconds int64) time.Time {
	return time.Unix(seconds, 0).UTC()
}

func testRegistry() *feeds.Registry {
	return feeds.NewRegistry(map[models.FeedOrigin]feeds.OriginInfo{
		"sourceA": {Name: "Source A", Url: "https://a.example.com/rss"},
		"sourceB": {Name: "Source B", Url: "https://b.example.com/rss"},
	})
}

func sourceA() string {
	return rssDocument(
		rssItem{title: "A100", link: "https://a.example.com/100", published: at(100)},
		rssItem{title: "A300", link: "https://a.example.com/300", published: at(300)},
	)
}

func sourceB() string {
	return rssDocument(
		rssItem{title: "B200", link: "https://b.example.com/200", published: at(200)},
	)
}

func titles(items []models.FeedItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Title
	}
	return out
}

func TestAggregateMergesAndSorts(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://a.example.com/rss": sourceA(),
		"https://b.example.com/rss": sourceB(),
	}}
	agg := feeds.NewAggregator(testRegistry(), fetcher)

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"sourceA", "sourceB"})
	require.NoError(t, err)

	assert.Equal(t, 1, feed.Version)
	assert.Nil(t, feed.Error)
	assert.Equal(t, []string{"A300", "B200", "A100"}, titles(feed.Items))
	assert.Equal(t, models.FeedOrigin("sourceA"), feed.Items[0].Origin)
	assert.Equal(t, models.FeedOrigin("sourceB"), feed.Items[1].Origin)
	assert.Equal(t, models.FeedOrigin("sourceA"), feed.Items[2].Origin)
}

func TestAggregatePartialFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		bodies: map[string]string{"https://a.example.com/rss": sourceA()},
		errs:   map[string]error{"https://b.example.com/rss": errors.New("connection refused")},
	}
	agg := feeds.NewAggregator(testRegistry(), fetcher)

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"sourceA", "sourceB"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A300", "A100"}, titles(feed.Items))
	require.Len(t, feed.Error, 1)
	assert.Equal(t, models.FeedOrigin("sourceB"), feed.Error[0].Origin)
	assert.Equal(t, "Failed to get Source B feed: connection refused.", feed.Error[0].Message)
}

func TestAggregateParseFailure(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{
		"https://a.example.com/rss": sourceA(),
		"https://b.example.com/rss": "<html>maintenance</html>",
	}}
	agg := feeds.NewAggregator(testRegistry(), fetcher)

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"sourceB", "sourceA"})
	require.NoError(t, err)

	assert.Len(t, feed.Items, 2)
	require.Len(t, feed.Error, 1)
	assert.Equal(t, models.FeedOrigin("sourceB"), feed.Error[0].Origin)
	assert.Contains(t, feed.Error[0].Message, "Failed to parse Source B feed")
}

func TestAggregateUnknownOrigin(t *testing.T) {
	fetcher := &fakeFetcher{}
	agg := feeds.NewAggregator(testRegistry(), fetcher)

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"unknownX"})
	require.NoError(t, err)

	assert.NotNil(t, feed.Items)
	assert.Empty(t, feed.Items)
	require.Len(t, feed.Error, 1)
	assert.Equal(t, models.FeedOrigin("unknownX"), feed.Error[0].Origin)
	assert.Contains(t, feed.Error[0].Message, "Unknown origin")
	assert.Empty(t, fetcher.Calls())
}

func TestAggregateNoOrigin(t *testing.T) {
	fetcher := &fakeFetcher{}
	agg := feeds.NewAggregator(testRegistry(), fetcher)

	for _, origins := range [][]models.FeedOrigin{nil, {}} {
		feed, err := agg.Aggregate(context.Background(), origins)
		assert.Nil(t, feed)
		assert.ErrorIs(t, err, feeds.ErrNoOrigin)
	}
	assert.Empty(t, fetcher.Calls())
	assert.EqualError(t, feeds.ErrNoOrigin, "no origin specified")
}

func TestAggregateDeduplicatesOrigins(t *testing.T) {
	fetcher := &fakeFetcher{bodies: map[string]string{"https://a.example.com/rss": sourceA()}}
	agg := feeds.NewAggregator(testRegistry(), fetcher)

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"sourceA", "sourceA"})
	require.NoError(t, err)

	assert.Len(t, feed.Items, 2)
	assert.Len(t, fetcher.Calls(), 1)
}

func TestAggregateUsesCustomParser(t *testing.T) {
	registry := feeds.NewRegistry(map[models.FeedOrigin]feeds.OriginInfo{
		"custom": {
			Name: "Custom",
			Url:  "https://custom.example.com",
			Parser: func(raw string) ([]models.FeedItem, error) {
				return []models.FeedItem{{Title: raw, Summary: "…", Link: "https://custom.example.com/1", Published: 42}}, nil
			},
		},
		"panics": {
			Name: "Panics",
			Url:  "https://panics.example.com",
			Parser: func(raw string) ([]models.FeedItem, error) {
				panic("boom")
			},
		},
	})
	fetcher := &fakeFetcher{bodies: map[string]string{"https://custom.example.com": "raw body"}}
	agg := feeds.NewAggregator(registry, fetcher)

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"custom", "panics"})
	require.NoError(t, err)

	require.Len(t, feed.Items, 1)
	assert.Equal(t, "raw body", feed.Items[0].Title)
	assert.Equal(t, models.FeedOrigin("custom"), feed.Items[0].Origin)
	require.Len(t, feed.Error, 1)
	assert.Equal(t, models.FeedOrigin("panics"), feed.Error[0].Origin)
	assert.Contains(t, feed.Error[0].Message, "boom")
}

func TestAggregateSortedProperty(t *testing.T) {
	tests := []struct {
		name string
		a    []int64
		b    []int64
	}{
		{name: "interleaved", a: []int64{10, 30, 50}, b: []int64{20, 40}},
		{name: "ties", a: []int64{5, 5, 5}, b: []int64{5, 1}},
		{name: "reversed input", a: []int64{1, 2, 3, 4}, b: []int64{9, 8, 7}},
		{name: "one empty", a: []int64{}, b: []int64{3, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build := func(ts []int64) string {
				items := make([]rssItem, len(ts))
				for i, s := range ts {
					items[i] = rssItem{title: "t", link: "https://example.com", published: at(s)}
				}
				return rssDocument(items...)
			}
			fetcher := &fakeFetcher{bodies: map[string]string{
				"https://a.example.com/rss": build(tt.a),
				"https://b.example.com/rss": build(tt.b),
			}}
			agg := feeds.NewAggregator(testRegistry(), fetcher, feeds.WithConcurrency(1))

			feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"sourceA", "sourceB"})
			require.NoError(t, err)
			require.Len(t, feed.Items, len(tt.a)+len(tt.b))

			for i := 1; i < len(feed.Items); i++ {
				assert.GreaterOrEqual(t, feed.Items[i-1].Published, feed.Items[i].Published)
			}
		})
	}
}

func TestAggregateTimeoutIsTransportFailure(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sourceB()))
	}))
	defer fast.Close()

	registry := feeds.NewRegistry(map[models.FeedOrigin]feeds.OriginInfo{
		"slow": {Name: "Slow", Url: slow.URL},
		"fast": {Name: "Fast", Url: fast.URL},
	})
	agg := feeds.NewAggregator(registry, feeds.NewHTTPFetcher(nil, ""), feeds.WithTimeout(100*time.Millisecond))

	feed, err := agg.Aggregate(context.Background(), []models.FeedOrigin{"slow", "fast"})
	require.NoError(t, err)

	assert.Equal(t, []string{"B200"}, titles(feed.Items))
	require.Len(t, feed.Error, 1)
	assert.Equal(t, models.FeedOrigin("slow"), feed.Error[0].Origin)
	assert.Contains(t, feed.Error[0].Message, "Failed to get Slow feed")
}

func TestHTTPFetcher(t *testing.T) {
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	fetcher := feeds.NewHTTPFetcher(srv.Client(), "test-agent")

	body, err := fetcher.Fetch(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.Equal(t, "body", body)
	assert.Equal(t, "test-agent", userAgent)

	_, err = fetcher.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 404")

	_, err = fetcher.Fetch(context.Background(), "invalid://url")
	assert.Error(t, err)
}

func TestHTTPFetcherRejectsOversizedBody(t *testing.T) {
	big := rssDocument(rssItem{title: "big", link: "https://big.example.com/1", description: strings.Repeat("x", 9<<20), published: at(100)})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	fetcher := feeds.NewHTTPFetcher(srv.Client(), "")
	_, err := fetcher.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, feeds.ErrBodyTooLarge)

	registry := feeds.NewRegistry(map[models.FeedOrigin]feeds.OriginInfo{
		"big": {Name: "Big", Url: srv.URL},
	})
	feed, err := feeds.NewAggregator(registry, fetcher).Aggregate(context.Background(), []models.FeedOrigin{"big"})
	require.NoError(t, err)
	assert.Empty(t, feed.Items)
	require.Len(t, feed.Error, 1)
	assert.Equal(t, "Failed to get Big feed: body exceeds 8 MiB.", feed.Error[0].Message)
}

func TestRegistry(t *testing.T) {
	registry := feeds.DefaultRegistry()

	assert.Equal(t, len(models.BuiltinOrigins), registry.Len())
	for _, origin := range models.BuiltinOrigins {
		info, ok := registry.Lookup(origin)
		assert.True(t, ok, origin)
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.Url)
	}

	_, ok := registry.Lookup("unknownX")
	assert.False(t, ok)

	view := registry.Describe()
	assert.Equal(t, models.OriginView{Name: "知乎日报", Url: "https://www.zhihu.com/rss"}, view[models.OriginZhihu])

	origins := registry.Origins()
	assert.IsIncreasing(t, origins)
}

func TestRegistryIsACopy(t *testing.T) {
	infos := map[models.FeedOrigin]feeds.OriginInfo{"a": {Name: "A", Url: "https://a"}}
	registry := feeds.NewRegistry(infos)

	infos["b"] = feeds.OriginInfo{Name: "B", Url: "https://b"}
	delete(infos, "a")

	_, ok := registry.Lookup("a")
	assert.True(t, ok)
	_, ok = registry.Lookup("b")
	assert.False(t, ok)
}
