package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

const (
	defaultUserAgent = "smartcommunity-feed/1.0"
	maxBodySize      = 8 << 20
)

// ErrBodyTooLarge is returned for sources whose body exceeds 8 MiB
var ErrBodyTooLarge = errors.New("body exceeds 8 MiB")

// Fetcher retrieves the raw body of a feed source
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches feed sources over HTTP(S)
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher returns a fetcher using client, or http.DefaultClient when nil
func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch issues a single GET to url and returns the whole body. Non-2xx
// responses are failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	log.WithFields(log.Fields{
		"url":    url,
		"status": resp.StatusCode,
	}).Debug("Fetched feed source")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > maxBodySize {
		return "", ErrBodyTooLarge
	}

	return string(body), nil
}
