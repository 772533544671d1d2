// Package httpapi builds the Gin engine: the shared middleware chain and the
// routes for sessions, verifications, the leased-number inventory, the
// mobile dial link and the telephony webhook.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-dial-verify/internal/config"
	"github.com/tbourn/go-dial-verify/internal/http/handlers"
	"github.com/tbourn/go-dial-verify/internal/http/middleware"
)

// Deps carries the services the routes are bound to. Verifier may be nil to
// accept unsigned provider webhooks.
type Deps struct {
	Pool     handlers.PoolService
	Matcher  handlers.CallMatcher
	Sessions middleware.SessionStore
	Verifier handlers.SignatureVerifier
}

// RegisterRoutes wires the middleware chain and every endpoint onto r: the
// versioned API under cfg.APIBasePath plus the root-level mobile link and
// provider webhook.
//
// Middleware order:
//  1. OpenTelemetry span per request
//  2. RequestID: reuse or mint X-Request-ID
//  3. RequestLogger: request-scoped logger on the Gin and request contexts
//  4. AccessLog: one scrubbed line per request
//  5. Recovery: capture panics after loggers
//  6. Body size limiter
//  7. gzip
//  8. Metrics
//  9. CORS and Security headers
//  10. Per-route: rate limiters, session cookie or path session
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	// ClientIP keys the rate limiters; forwarded headers count only behind a
	// known proxy.
	if !cfg.Security.TrustProxy {
		_ = r.SetTrustedProxies(nil)
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2-4) Correlate requests and logs
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Headers:    []string{"X-Twilio-Signature"},
		SkipRoutes: []string{"/health", "/metrics"},
	}))

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (64 KiB; webhooks and JSON are tiny)
	r.Use(limitBody(64 << 10))

	// 7) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 8) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	// 9) CORS: open when no origins are configured, else an allowlist that
	// may send the session cookie.
	r.Use(corsPolicy(cfg.CORS.AllowedOrigins)...)

	apiBase := cfg.APIBasePath
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:          cfg.Security.EnableHSTS,
		HSTSMaxAge:          cfg.Security.HSTSMaxAge,
		NoStorePrefixes:     []string{joinPath(apiBase, "/session"), joinPath(apiBase, "/verifications"), "/ses/"},
		TrustForwardedProto: cfg.Security.TrustProxy,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "no such route")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health)

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Pool, deps.Matcher, deps.Verifier, cfg.WebhookURL())
	// Token buckets: per address on everything public, per session on the
	// routes that may lease (and buy) a number.
	ipLimiter := middleware.NewRateLimiter("ip", cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	sessionLimiter := middleware.NewRateLimiter("session", cfg.RateRPS, cfg.RateBurst, middleware.KeyBySessionOrIP())
	pathSession := middleware.PathSession(deps.Sessions, "sessionId")

	// Public API
	api := groupWithPrefix(r, apiBase)
	api.Use(ipLimiter.Handler())
	{
		api.GET("/session", middleware.Session(deps.Sessions, middleware.SessionOptions{
			TTL:    cfg.Session.TTL,
			Secure: cfg.Session.CookieSecure,
		}), h.GetSession)

		verif := api.Group("/verifications/:sessionId", pathSession, sessionLimiter.Handler())
		verif.POST("/assignment", h.RequestAssignment)
		verif.GET("", h.GetVerification)

		api.GET("/numbers", h.ListNumbers)
	}

	// Mobile link and its landing page
	r.GET("/ses/:sessionId", ipLimiter.Handler(), pathSession, sessionLimiter.Handler(), h.MobileLink)
	r.GET("/verified", h.Verified)

	// Provider webhook (signature-checked, not rate limited)
	r.POST("/twilio/voice", h.VoiceWebhook)
}

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "Retry-After"}
)

// corsPolicy builds the CORS chain. gin-contrib/cors only answers requests
// that carry an Origin, so a small shim sets the allow header up front: "*"
// in open mode, the echoed origin for allowlisted callers.
func corsPolicy(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Header("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    corsMethods,
				AllowHeaders:    corsHeaders,
				ExposeHeaders:   corsExpose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if o := c.GetHeader("Origin"); allowed[o] {
				c.Header("Access-Control-Allow-Origin", o)
				c.Writer.Header().Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
	}
}

func health(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }

// limitBody caps every request body at maxBytes; reads past the cap fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix; "" and "/" mean the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath joins a base path and a suffix starting with "/".
func joinPath(base, suffix string) string {
	if base == "" || base == "/" {
		return suffix
	}
	return base + suffix
}
