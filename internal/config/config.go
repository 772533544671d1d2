// Package config loads the server settings from environment variables.
// Every knob has a default; Load rejects malformed or out-of-range values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty means any.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig controls transport hardening headers and proxy trust.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
	TrustProxy bool          // TRUST_PROXY, honor X-Forwarded-* from the reverse proxy
}

// OTELConfig configures the OTLP trace exporter.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT, host:port of the collector
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE, plaintext gRPC
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG, parent-based ratio
}

// TwilioConfig holds the telephony provider credentials. The master account
// credentials are only used to resolve (or create) the sub-account that owns
// the leased numbers.
type TwilioConfig struct {
	AccountSID      string        // TWILIO_ACCOUNT_SID
	AuthToken       string        // TWILIO_AUTH_TOKEN
	SubAccountName  string        // TWILIO_SUBACCOUNT_NAME
	Country         string        // TWILIO_COUNTRY, ISO country for local number search
	ValidateWebhook bool          // TWILIO_VALIDATE_WEBHOOK
	Timeout         time.Duration // PROVIDER_TIMEOUT
}

// LeasingConfig controls assignment windows and number/ledger lifetimes.
type LeasingConfig struct {
	Validity        time.Duration // VERIFICATION_VALIDITY
	LeaseMonths     int           // LEASE_MONTHS
	LedgerRetention time.Duration // LEDGER_RETENTION, 0 = full daily wipe
	ReclaimSchedule string        // RECLAIM_SCHEDULE (cron spec)
	ReclaimTimezone string        // RECLAIM_TIMEZONE
	PurgeDelay      time.Duration // CALL_LOG_PURGE_DELAY
}

// SessionConfig controls the opaque session tokens handed to browsers.
type SessionConfig struct {
	TTL             time.Duration // SESSION_TTL
	CleanupInterval time.Duration // SESSION_CLEANUP_INTERVAL
	CookieSecure    bool          // SESSION_COOKIE_SECURE
}

// Config is the complete server configuration.
type Config struct {
	// HTTP server
	Port              string        // PORT
	ReadTimeout       time.Duration // READ_TIMEOUT
	ReadHeaderTimeout time.Duration // READ_HEADER_TIMEOUT
	WriteTimeout      time.Duration // WRITE_TIMEOUT
	IdleTimeout       time.Duration // IDLE_TIMEOUT
	MaxHeaderBytes    int           // MAX_HEADER_BYTES
	GinMode           string        // GIN_MODE: debug, release or test

	LogLevel       string // LOG_LEVEL
	LogPretty      bool   // LOG_PRETTY, console writer instead of JSON
	SwaggerEnabled bool   // SWAGGER_ENABLED
	APIBasePath    string // API_BASE_PATH

	// App
	DBPath string // SQLite path
	AppURL string // public base URL, used for the provider voice webhook

	Twilio  TwilioConfig
	Leasing LeasingConfig
	Session SessionConfig

	RateRPS   float64 // RATE_RPS, token refill per second
	RateBurst int     // RATE_BURST

	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// MustLoad is Load for tests and tools; it panics on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result. Malformed values are errors,
// never silently replaced by defaults; every problem found is reported in
// one joined error.
func Load() (Config, error) {
	e := &env{}
	cfg := Config{
		// Server
		Port:              e.str("PORT", "3003"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: e.str("DB_PATH", "sqlite.db"),
		AppURL: strings.TrimRight(e.str("APP_URL", "http://localhost:3003"), "/"),

		Twilio: TwilioConfig{
			AccountSID:      e.str("TWILIO_ACCOUNT_SID", ""),
			AuthToken:       e.str("TWILIO_AUTH_TOKEN", ""),
			SubAccountName:  e.str("TWILIO_SUBACCOUNT_NAME", "dial2verify"),
			Country:         strings.ToUpper(e.str("TWILIO_COUNTRY", "US")),
			ValidateWebhook: e.bool("TWILIO_VALIDATE_WEBHOOK", true),
			Timeout:         e.dur("PROVIDER_TIMEOUT", 10*time.Second),
		},
		Leasing: LeasingConfig{
			Validity:        e.dur("VERIFICATION_VALIDITY", 15*time.Second),
			LeaseMonths:     e.int("LEASE_MONTHS", 1),
			LedgerRetention: e.dur("LEDGER_RETENTION", 0),
			ReclaimSchedule: e.str("RECLAIM_SCHEDULE", "1 0 * * *"),
			ReclaimTimezone: e.str("RECLAIM_TIMEZONE", "UTC"),
			PurgeDelay:      e.dur("CALL_LOG_PURGE_DELAY", 10*time.Second),
		},
		Session: SessionConfig{
			TTL:             e.dur("SESSION_TTL", 24*time.Hour),
			CleanupInterval: e.dur("SESSION_CLEANUP_INTERVAL", 5*time.Minute),
			CookieSecure:    e.bool("SESSION_COOKIE_SECURE", false),
		},

		RateRPS:   e.float("RATE_RPS", 2.0),
		RateBurst: e.int("RATE_BURST", 5),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
			TrustProxy: e.bool("TRUST_PROXY", false),
		},

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "dial2verify"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	errs := append(e.errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(cfg.Port) != "", "PORT must not be empty")
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(cfg.DBPath) != "", "DB_PATH must not be empty")
	check(strings.HasPrefix(cfg.AppURL, "http://") || strings.HasPrefix(cfg.AppURL, "https://"),
		"APP_URL must be an absolute http(s) URL")

	check(strings.TrimSpace(cfg.Twilio.SubAccountName) != "", "TWILIO_SUBACCOUNT_NAME must not be empty")
	check(len(cfg.Twilio.Country) == 2, "TWILIO_COUNTRY must be a two-letter ISO code")
	check(cfg.Twilio.Timeout > 0, "PROVIDER_TIMEOUT must be > 0")
	check((cfg.Twilio.AccountSID == "") == (cfg.Twilio.AuthToken == ""),
		"TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together")

	check(cfg.Leasing.Validity > 0, "VERIFICATION_VALIDITY must be > 0")
	check(cfg.Leasing.LeaseMonths >= 1, "LEASE_MONTHS must be >= 1")
	check(cfg.Leasing.LedgerRetention >= 0, "LEDGER_RETENTION must be >= 0")
	check(strings.TrimSpace(cfg.Leasing.ReclaimSchedule) != "", "RECLAIM_SCHEDULE must not be empty")
	if _, err := time.LoadLocation(cfg.Leasing.ReclaimTimezone); err != nil {
		errs = append(errs, errors.New("RECLAIM_TIMEZONE must be a valid IANA time zone"))
	}
	check(cfg.Leasing.PurgeDelay >= 0, "CALL_LOG_PURGE_DELAY must be >= 0")

	check(cfg.Session.TTL > 0 && cfg.Session.CleanupInterval > 0,
		"SESSION_TTL and SESSION_CLEANUP_INTERVAL must be > 0")
	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// HasProviderCredentials reports whether master account credentials are set.
// Without them the server runs with telephony disabled.
func (c Config) HasProviderCredentials() bool {
	return strings.TrimSpace(c.Twilio.AccountSID) != "" && strings.TrimSpace(c.Twilio.AuthToken) != ""
}

// WebhookURL is the absolute URL the provider calls on inbound voice calls.
func (c Config) WebhookURL() string {
	return c.AppURL + "/twilio/voice"
}

// env reads typed values and remembers every malformed one.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(k, v, kind string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, kind))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
