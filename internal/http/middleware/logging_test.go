package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes every JSON line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	cases := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"absent", "", false},
		{"well formed", "abc-123.Z_9", true},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"header injection", "rid\r\nX-Evil: 1", false},
		{"spaces", "a b", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rid", nil)
			if tc.inbound != "" {
				req.Header[requestIDHeader] = []string{tc.inbound}
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if got == "" || w.Body.String() != got {
				t.Fatalf("header %q and context %q must match and be set", got, w.Body.String())
			}
			if tc.reuse && got != tc.inbound {
				t.Fatalf("expected inbound ID to be reused, got %q", got)
			}
			if !tc.reuse && got == tc.inbound {
				t.Fatalf("inbound ID %q should have been replaced", tc.inbound)
			}
		})
	}
}

func TestRequestLogger_ScopesHandlerAndServiceLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RequestLogger())
	r.POST("/api/v1/verifications/:sessionId/assignment", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("from handler")
		log.Ctx(c.Request.Context()).Info().Msg("from service")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verifications/tok123/assignment", nil)
	req.Header.Set(requestIDHeader, "rid-ctx")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	for _, m := range lines {
		if m["request_id"] != "rid-ctx" || m["method"] != "POST" || m["route"] != "/api/v1/verifications/:sessionId/assignment" {
			t.Fatalf("missing request fields: %v", m)
		}
	}
}

func TestLoggerFrom_FallsBackToGlobal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	LoggerFrom(c).Info().Msg("bare")

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["message"] != "bare" {
		t.Fatalf("unexpected lines: %v", lines)
	}
	if _, ok := lines[0]["request_id"]; ok {
		t.Fatalf("fallback logger must not carry request fields")
	}
}

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RequestLogger(), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != w.Header().Get(requestIDHeader) {
		t.Fatalf("unexpected body: %v", body)
	}

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["message"] != "panic recovered" || lines[0]["panic"] != "kaboom" {
		t.Fatalf("unexpected panic log: %v", lines)
	}
	if lines[0]["route"] != "/panic" {
		t.Fatalf("panic log should be request scoped: %v", lines[0])
	}
}

func TestRecovery_PanicAfterWriteKeepsBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Recovery())
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))

	if w.Body.String() != "partial" {
		t.Fatalf("body = %q; want the already written body only", w.Body.String())
	}
}
