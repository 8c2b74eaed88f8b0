// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation: generic HTTP traffic metrics
// plus the delivery-domain counters (issued tokens, served and refused
// downloads, webhook outcomes). Label cardinality stays bounded — route
// templates, not raw URLs; coarse outcome/reason labels, never ids or
// emails. All collectors are safe for concurrent use.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpReqs counts requests by method, route path, and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route path.
	// Status is omitted to keep histogram cardinality lower.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges the number of in-flight requests; file streams can
	// hold this up for a while.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// tokensIssued counts download tokens minted via webhook or API.
	tokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_tokens_issued_total",
			Help: "Total number of download tokens issued.",
		},
	)

	// downloadsServed counts successfully streamed files and the bytes moved.
	downloadsServed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_downloads_total",
			Help: "Total number of downloads served.",
		},
	)
	downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_download_bytes_total",
			Help: "Total bytes of book content streamed.",
		},
	)

	// downloadsRefused counts refused download attempts by coarse reason:
	// unauthorized, invalid, expired, limit, mismatch, missing, internal.
	downloadsRefused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_downloads_refused_total",
			Help: "Total number of refused download attempts.",
		},
		[]string{"reason"},
	)

	// webhookEvents counts payment webhook deliveries by outcome:
	// processed, duplicate, malformed, failed.
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_webhook_events_total",
			Help: "Total number of payment webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpReqs, httpLat, httpInflight,
		tokensIssued, downloadsServed, downloadBytes, downloadsRefused, webhookEvents,
	)
}

// ObserveTokensIssued adds n freshly minted tokens to the issuance counter.
func ObserveTokensIssued(n int) {
	if n > 0 {
		tokensIssued.Add(float64(n))
	}
}

// ObserveDownload records one successfully served download of size bytes.
func ObserveDownload(size int64) {
	downloadsServed.Inc()
	if size > 0 {
		downloadBytes.Add(float64(size))
	}
}

// ObserveDownloadRefused records one refused download attempt.
func ObserveDownloadRefused(reason string) {
	downloadsRefused.WithLabelValues(reason).Inc()
}

// ObserveWebhookEvent records one webhook delivery outcome.
func ObserveWebhookEvent(outcome string) {
	webhookEvents.WithLabelValues(outcome).Inc()
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
// The "path" label uses the registered route (c.FullPath()) to avoid
// unbounded cardinality from raw URLs; the raw path is used only when no
// route matched (404s).
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
