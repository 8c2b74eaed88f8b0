// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements AccessLogger, a structured HTTP logger that scrubs
// secrets and PII from request metadata before emitting logs. Download URLs
// carry bearer-like secrets (`?token=<hex>`), and create-token payloads carry
// customer emails, so the default Gin logger is off the table here.
//
// Design goals:
//   - Default-safe: never logs request or response bodies
//   - Replaces download-token values wherever they appear in a query string
//   - Redacts email addresses and UUID-like identifiers
//   - Masks sensitive headers (Authorization, Cookie, plus custom)
//   - Attaches the request-scoped zerolog.Logger consumed by LoggerFrom
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for AccessLogger.
//
// MaskHeaders specifies extra HTTP header names whose values are fully
// replaced with "[REDACTED]". Matching is case-insensitive and merged with
// the built-in sensitive headers ("Authorization", "Cookie", "Set-Cookie").
type RedactOptions struct {
	MaskHeaders []string
}

// Compile scrub patterns once.
var (
	// tokenParamRE masks the value of any token-ish query parameter. This is
	// the one that matters: a logged download URL is a usable credential.
	tokenParamRE = regexp.MustCompile(`(?i)(token=)[^&\s]+`)
	// hexTokenRE catches bare 64-char hex tokens pasted into other fields.
	hexTokenRE = regexp.MustCompile(`(?i)\b[0-9a-f]{64}\b`)
	uuidRE     = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE    = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// redact scrubs tokens first (most specific), then ids, then emails.
func redact(s string) string {
	if s == "" {
		return s
	}
	out := tokenParamRE.ReplaceAllString(s, "${1}[REDACTED:token]")
	out = hexTokenRE.ReplaceAllString(out, "[REDACTED:token]")
	out = uuidRE.ReplaceAllString(out, "[REDACTED:id]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	return out
}

// AccessLogger returns a Gin middleware that logs each request with sensitive
// values scrubbed, and stores a request-scoped logger under the context key
// read by LoggerFrom.
//
// Log level follows the outcome: INFO for success, WARN for 4xx, ERROR for
// 5xx or when the Gin context collected errors.
func AccessLogger(opts RedactOptions) gin.HandlerFunc {
	// Build header mask set (case-insensitive).
	maskHeaders := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			// Fallback when route not matched / 404.
			path = c.Request.URL.Path
		}
		safeQuery := redact(c.Request.URL.RawQuery)

		// Scrub headers.
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, masked := maskHeaders[strings.ToLower(k)]; masked {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		rid, _ := c.Get(requestIDKey)
		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Str("query", safeQuery).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := c.Writer.Size()

		ev := l.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", redact(c.Errors.String()))
		}
		ev.
			Int("status", status).
			Int("bytes", size).
			Dur("latency", latency).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
