package feeds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"smartcommunity/models"
)

// DefaultTimeout bounds a single origin's fetch
const DefaultTimeout = 15 * time.Second

// ErrNoOrigin is returned by Aggregate when called without origins
var ErrNoOrigin = errors.New("no origin specified")

// ErrorKind classifies a per-origin failure
type ErrorKind string

const (
	KindUnknown   ErrorKind = "unknown"
	KindTransport ErrorKind = "transport"
	KindParse     ErrorKind = "parse"
)

// OriginError is the failure of one origin within an aggregation. It never
// fails the aggregation itself, it ends up in Feed.Error.
type OriginError struct {
	Origin models.FeedOrigin
	Name   string
	Kind   ErrorKind
	Err    error
}

func (e *OriginError) Error() string {
	switch e.Kind {
	case KindUnknown:
		return fmt.Sprintf("Unknown origin: %s.", e.Origin)
	case KindTransport:
		return fmt.Sprintf("Failed to get %s feed: %v.", e.Name, e.Err)
	default:
		return fmt.Sprintf("Failed to parse %s feed: %v.", e.Name, e.Err)
	}
}

func (e *OriginError) Unwrap() error {
	return e.Err
}

// Aggregator fetches and merges the feeds of several origins
type Aggregator struct {
	registry *Registry
	fetcher  Fetcher
	timeout  time.Duration
	limit    int
}

type Option func(*Aggregator)

// WithTimeout sets the per-origin fetch timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.timeout = d
	}
}

// WithConcurrency caps the number of origins fetched at once. Zero means one
// goroutine per origin.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		a.limit = n
	}
}

func NewAggregator(registry *Registry, fetcher Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry: registry,
		fetcher:  fetcher,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry returns the registry the aggregator resolves origins with
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

type originResult struct {
	items []models.FeedItem
	err   *OriginError
}

// Aggregate fetches every origin concurrently and waits for all of them.
// Per-origin failures are reported in Feed.Error; the only error returned is
// ErrNoOrigin.
func (a *Aggregator) Aggregate(ctx context.Context, origins []models.FeedOrigin) (*models.Feed, error) {
	if len(origins) == 0 {
		return nil, ErrNoOrigin
	}

	origins = lo.Uniq(origins)
	results := make([]originResult, len(origins))

	// A plain group: one origin failing must not cancel the others
	var g errgroup.Group
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	for i, origin := range origins {
		g.Go(func() error {
			results[i] = a.collect(ctx, origin)
			return nil
		})
	}
	_ = g.Wait()

	feed := &models.Feed{
		Version: models.FeedVersion,
		Items:   []models.FeedItem{},
	}
	for _, result := range results {
		feed.Items = append(feed.Items, result.items...)
		if result.err != nil {
			feed.Error = append(feed.Error, models.FeedError{
				Origin:  result.err.Origin,
				Message: result.err.Error(),
			})
		}
	}

	sort.SliceStable(feed.Items, func(i, j int) bool {
		return feed.Items[i].Published > feed.Items[j].Published
	})

	return feed, nil
}

func (a *Aggregator) collect(ctx context.Context, origin models.FeedOrigin) originResult {
	start := time.Now()
	info, ok := a.registry.Lookup(origin)
	if !ok {
		return a.fail(&OriginError{Origin: origin, Kind: KindUnknown}, start)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	body, err := a.fetcher.Fetch(ctx, info.Url)
	if err != nil {
		return a.fail(&OriginError{Origin: origin, Name: info.Name, Kind: KindTransport, Err: err}, start)
	}

	parser := info.Parser
	if parser == nil {
		parser = CommonParser
	}

	items, err := safeParse(parser, body)
	if err != nil {
		return a.fail(&OriginError{Origin: origin, Name: info.Name, Kind: KindParse, Err: err}, start)
	}

	for i := range items {
		items[i].Origin = origin
	}

	observeFetch(origin, "ok", time.Since(start))
	log.WithFields(log.Fields{
		"origin":  origin,
		"items":   len(items),
		"latency": time.Since(start),
	}).Info("Fetched feed")

	return originResult{items: items}
}

func (a *Aggregator) fail(err *OriginError, start time.Time) originResult {
	label := err.Origin
	if err.Kind == KindUnknown {
		// request input, keep it out of the label set
		label = "_unknown"
	}
	observeFetch(label, string(err.Kind), time.Since(start))
	log.WithFields(log.Fields{
		"origin": err.Origin,
		"kind":   err.Kind,
	}).Error(err.Error())
	return originResult{err: err}
}

// safeParse runs parser and turns a panic into a ParseError
func safeParse(parser Parser, body string) (items []models.FeedItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = parseErrorf("parser panicked: %v", r)
		}
	}()
	return parser(body)
}
