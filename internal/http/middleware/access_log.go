package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// QueryAllow lists query parameters whose values are logged verbatim.
	// Every other parameter is logged with its value replaced.
	QueryAllow []string
	// Headers lists extra request headers to log. Credential-bearing headers
	// are always masked even when listed.
	Headers []string
	// SkipRoutes lists route patterns that are not logged (probes, scrapes).
	SkipRoutes []string
}

const redacted = "[REDACTED]"

var (
	// Loose E.164-ish match: optional +, 7 to 15 digits with common separators.
	phoneRE = regexp.MustCompile(`\+?\d[\d\s().-]{5,18}\d`)

	defaultQueryAllow = []string{"page", "page_size"}
	defaultHeaders    = []string{"User-Agent", "Referer", "Content-Type"}

	// Session IDs are bearer credentials for the mobile link; provider
	// signatures and cookies are credentials too.
	alwaysMasked = map[string]struct{}{
		"authorization":      {},
		"cookie":             {},
		"set-cookie":         {},
		"x-twilio-signature": {},
	}
)

// AccessLog writes one structured line per request through the request-scoped
// logger (so it carries request_id and route). Bodies are never read. Phone
// numbers and session IDs are kept out of the line:
//
//   - the path is the route pattern; unmatched raw paths are scrubbed
//   - only allowlisted query values are kept
//   - the session ID is reduced to a short fingerprint
//
// Level is error for 5xx or collected Gin errors, warn for 4xx, info
// otherwise.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	allow := toSet(append(append([]string{}, defaultQueryAllow...), opts.QueryAllow...))
	headers := append(append([]string{}, defaultHeaders...), opts.Headers...)
	skip := toSet(opts.SkipRoutes)

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skip[strings.ToLower(c.FullPath())]; ok {
			return
		}

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}

		ev = ev.
			Str("path", scrubPath(c)).
			Str("query", scrubQuery(c.Request.URL.RawQuery, allow)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start))

		if sid := SessionID(c); sid != "" {
			ev = ev.Str("session", fingerprint(sid))
		}
		for _, h := range headers {
			v := c.GetHeader(h)
			if v == "" {
				continue
			}
			if _, ok := alwaysMasked[strings.ToLower(h)]; ok {
				v = redacted
			}
			ev = ev.Str(strings.ToLower(h), v)
		}
		ev.Msg("request")
	}
}

// scrubPath returns the route pattern, or the raw path with phone-like runs
// and long opaque segments masked when no route matched.
func scrubPath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	segs := strings.Split(c.Request.URL.Path, "/")
	for i, s := range segs {
		switch {
		case len(s) >= 16:
			segs[i] = ":redacted"
		default:
			segs[i] = phoneRE.ReplaceAllString(s, redacted)
		}
	}
	return strings.Join(segs, "/")
}

// scrubQuery keeps allowlisted values and masks the rest. Unparseable query
// strings are dropped entirely.
func scrubQuery(raw string, allow map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return redacted
	}
	for k, vv := range q {
		if _, ok := allow[strings.ToLower(k)]; ok {
			continue
		}
		for i := range vv {
			vv[i] = redacted
		}
	}
	out, _ := url.QueryUnescape(q.Encode())
	return out
}

// fingerprint shortens a session ID so log lines can be correlated without
// exposing a usable credential.
func fingerprint(id string) string {
	if len(id) <= 6 {
		return strings.Repeat("*", len(id))
	}
	return id[:6] + "…"
}

func toSet(vals []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			m[v] = struct{}{}
		}
	}
	return m
}
