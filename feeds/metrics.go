package feeds

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"smartcommunity/models"
)

var (
	feedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartcommunity_feed_fetch_total",
		Help: "Feed source fetches by origin and result",
	}, []string{"origin", "result"})

	feedFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartcommunity_feed_fetch_duration_seconds",
		Help:    "Time spent fetching and parsing one feed source",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms up to ~25s
	}, []string{"origin"})
)

func observeFetch(origin models.FeedOrigin, result string, d time.Duration) {
	feedFetches.WithLabelValues(string(origin), result).Inc()
	feedFetchDuration.WithLabelValues(string(origin)).Observe(d.Seconds())
}
