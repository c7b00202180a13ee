// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database selection, booking behavior,
// external collaborators (payments, object storage, event broker), rate
// limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "clinic-booking")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and configures the relational store.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	DSN    string // Postgres DSN (DATABASE_URL)
}

// BookingConfig tunes slot materialization and the booking engine.
type BookingConfig struct {
	LockTimeout          time.Duration // bounded wait for the slot row lock
	ReconcileCron        string        // cron spec for booked_count reconciliation ("" disables)
	MaterializeCron      string        // cron spec for materializing upcoming days ("" disables)
	MaterializeAheadDays int           // how many days ahead the materialize job covers
	SlotCapacity         int           // capacity given to newly materialized slots
	Timezone             string        // IANA zone used to compute "today"
}

// PaymentConfig configures the payment-gateway collaborator.
type PaymentConfig struct {
	Provider  string // razorpay|fake
	KeyID     string
	KeySecret string
	Currency  string

	// ClinicName heads every PDF receipt.
	ClinicName string
}

// StorageConfig configures the object-storage collaborator.
type StorageConfig struct {
	Backend       string // s3|memory
	Bucket        string
	Region        string
	Endpoint      string // optional, e.g. a MinIO/LocalStack URL
	PublicBaseURL string // optional, prefix for object URLs
	Prefix        string // key prefix for every upload
	MaxImageBytes int64  // images and documents
	MaxVideoBytes int64
}

// EventsConfig configures the appointment event publisher.
type EventsConfig struct {
	Backend  string // none|kafka|sqs
	Brokers  []string
	Topic    string
	QueueURL string
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret      string
	HeaderFallback bool // accept X-User-ID / X-Role (development only)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DB      DBConfig
	Booking BookingConfig
	Payment PaymentConfig
	Storage StorageConfig
	Events  EventsConfig
	Auth    AuthConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
	RedisURL  string  // when set, limits are shared across replicas

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "clinic.db"),
			DSN:    getenv("DATABASE_URL", ""),
		},
		Booking: BookingConfig{
			LockTimeout:          getdur("BOOKING_LOCK_TIMEOUT", 5*time.Second),
			ReconcileCron:        getenv("RECONCILE_CRON", "@every 15m"),
			MaterializeCron:      getenv("MATERIALIZE_CRON", "0 1 * * *"),
			MaterializeAheadDays: getint("MATERIALIZE_AHEAD_DAYS", 7),
			SlotCapacity:         getint("SLOT_CAPACITY", 1),
			Timezone:             getenv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		},
		Payment: PaymentConfig{
			Provider:   strings.ToLower(getenv("PAYMENT_PROVIDER", "fake")),
			KeyID:      getenv("RAZORPAY_KEY_ID", ""),
			KeySecret:  getenv("RAZORPAY_KEY_SECRET", ""),
			Currency:   strings.ToUpper(getenv("PAYMENT_CURRENCY", "INR")),
			ClinicName: strings.TrimSpace(getenv("CLINIC_NAME", "Physio Care Clinic")),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getenv("STORAGE_BACKEND", "memory")),
			Bucket:        getenv("S3_BUCKET", ""),
			Region:        getenv("S3_REGION", ""),
			Endpoint:      getenv("S3_ENDPOINT", ""),
			PublicBaseURL: strings.TrimRight(getenv("STORAGE_PUBLIC_BASE_URL", ""), "/"),
			Prefix:        strings.Trim(getenv("STORAGE_PREFIX", "physio-care"), "/"),
			MaxImageBytes: int64(getint("MAX_IMAGE_BYTES", 9<<20)),
			MaxVideoBytes: int64(getint("MAX_VIDEO_BYTES", 90<<20)),
		},
		Events: EventsConfig{
			Backend:  strings.ToLower(getenv("EVENTS_BACKEND", "none")),
			Brokers:  splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:    getenv("KAFKA_TOPIC", "appointment_events"),
			QueueURL: getenv("SQS_QUEUE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret:      getenv("JWT_SECRET", ""),
			HeaderFallback: getbool("AUTH_HEADER_FALLBACK", false),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),
		RedisURL:  getenv("REDIS_URL", ""),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "clinic-booking"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.DSN) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Booking.LockTimeout <= 0 {
		return cfg, errors.New("BOOKING_LOCK_TIMEOUT must be > 0")
	}
	if cfg.Booking.MaterializeAheadDays < 0 {
		return cfg, errors.New("MATERIALIZE_AHEAD_DAYS must be >= 0")
	}
	if cfg.Booking.SlotCapacity < 1 {
		return cfg, errors.New("SLOT_CAPACITY must be >= 1")
	}
	if _, err := time.LoadLocation(cfg.Booking.Timezone); err != nil {
		return cfg, errors.New("CLINIC_TIMEZONE must be a valid IANA time zone")
	}
	switch cfg.Payment.Provider {
	case "fake":
	case "razorpay":
		if cfg.Payment.KeyID == "" || cfg.Payment.KeySecret == "" {
			return cfg, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required when PAYMENT_PROVIDER=razorpay")
		}
	default:
		return cfg, errors.New("PAYMENT_PROVIDER must be one of: razorpay, fake")
	}
	if len(cfg.Payment.Currency) != 3 {
		return cfg, errors.New("PAYMENT_CURRENCY must be a 3-letter ISO code")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "s3":
		if cfg.Storage.Bucket == "" {
			return cfg, errors.New("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return cfg, errors.New("STORAGE_BACKEND must be one of: s3, memory")
	}
	if cfg.Storage.MaxImageBytes <= 0 || cfg.Storage.MaxVideoBytes <= 0 {
		return cfg, errors.New("MAX_IMAGE_BYTES and MAX_VIDEO_BYTES must be > 0")
	}
	switch cfg.Events.Backend {
	case "none":
	case "kafka":
		if len(cfg.Events.Brokers) == 0 || cfg.Events.Topic == "" {
			return cfg, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when EVENTS_BACKEND=kafka")
		}
	case "sqs":
		if cfg.Events.QueueURL == "" {
			return cfg, errors.New("SQS_QUEUE_URL is required when EVENTS_BACKEND=sqs")
		}
	default:
		return cfg, errors.New("EVENTS_BACKEND must be one of: none, kafka, sqs")
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.HeaderFallback {
		return cfg, errors.New("JWT_SECRET is required unless AUTH_HEADER_FALLBACK is enabled")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// Location returns the clinic time zone. Load has already validated it.
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
