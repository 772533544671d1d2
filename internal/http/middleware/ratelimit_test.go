package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKeyFuncs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if got := KeyBySessionOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("no session: key = %q", got)
	}

	// A raw cookie is not an identity.
	c.Request.AddCookie(&http.Cookie{Name: SessionCookie, Value: "rotating"})
	if got := KeyBySessionOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("cookie alone changed the key: %q", got)
	}

	c.Set(sessionIDKey, "s123")
	if got := KeyBySessionOrIP()(c); got != "session:s123" {
		t.Fatalf("resolved session: key = %q", got)
	}
	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("KeyByIP = %q", got)
	}
}

func TestRateLimiter_RejectsOverBurstPerSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter("assignment", 1, 1, KeyBySessionOrIP())
	rl.metrics = newHTTPMetrics(prometheus.NewRegistry())

	sid := "sess-a"
	r := gin.New()
	r.Use(RequestID())
	r.Use(func(c *gin.Context) { c.Set(sessionIDKey, sid); c.Next() })
	r.Use(rl.Handler())
	r.POST("/assign", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/assign", nil))
		return w
	}

	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("first request = %d; want 200", w.Code)
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d; want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q; want 1", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if got := testutil.ToFloat64(rl.metrics.rateLimited.WithLabelValues("assignment")); got != 1 {
		t.Fatalf("rate_limited counter = %v; want 1", got)
	}

	// Another session draws from its own bucket.
	sid = "sess-b"
	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("other session = %d; want 200", w.Code)
	}
}

func TestRateLimiter_ZeroRateAllowsOnlyBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter("ip", 0, 2, KeyByIP())
	rl.metrics = newHTTPMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v; want [200 200 429]", codes)
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter("ip", 1, 1, KeyByIP())
	rl.now = func() time.Time { return now }

	first := rl.limiter("old")
	if again := rl.limiter("old"); again != first {
		t.Fatalf("bucket not reused")
	}

	now = now.Add(defaultBucketIdle)
	_ = rl.limiter("new")

	if rl.Len() != 1 {
		t.Fatalf("buckets = %d; want 1 after sweep", rl.Len())
	}
	if rl.limiter("old") == first {
		t.Fatalf("idle bucket survived the sweep")
	}
}

func TestNewRateLimiter_BurstFloor(t *testing.T) {
	if rl := NewRateLimiter("x", 1, 0, KeyByIP()); rl.burst != 1 {
		t.Fatalf("burst = %d; want 1", rl.burst)
	}
}
