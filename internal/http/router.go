// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/config"
	"github.com/tbourn/clinic-booking/internal/docs"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/http/handlers"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/payment"
	"github.com/tbourn/clinic-booking/internal/services"
	"github.com/tbourn/clinic-booking/internal/storage"
)

const (
	defaultBodyLimit = 1 << 20
	// multipart framing and form fields on top of the largest file
	uploadOverhead = 1 << 20
)

// Deps are the collaborators RegisterRoutes builds the services from.
type Deps struct {
	DB      *gorm.DB
	Gateway payment.Gateway
	Store   storage.ObjectStore
	Events  events.Publisher
	// Limiter backs the rate limiter. Nil uses an in-process token bucket
	// sized by cfg.RateRPS / cfg.RateBurst.
	Limiter middleware.Limiter
	// Now overrides the wall clock (tests).
	Now func() time.Time
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health, metrics and docs endpoints, and then mounts the versioned
// API under cfg.APIBasePath with authentication, idempotency and rate
// limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (uploads get the video limit)
//  6. Metrics
//  7. CORS, security headers, gzip
//
// and inside the API group:
//  8. Authenticate
//  9. Idempotency validator (before rate limiting to allow bypass on replay)
//  10. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limit; the upload route accepts the largest file class
	apiBase := normalizeBase(cfg.APIBasePath)
	r.Use(limitBody(defaultBodyLimit, map[string]int64{
		apiBase + "/files": maxUpload(cfg.Storage) + uploadOverhead,
	}))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture, security headers, compression
	useCORS(r, cfg.CORS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← db and collaborators
	clock := services.Clock{Loc: cfg.Booking.Location(), Now: d.Now}
	slotSvc := services.NewSlotService(d.DB, clock)
	if cfg.Booking.SlotCapacity > 0 {
		slotSvc.Capacity = cfg.Booking.SlotCapacity
	}
	fileSvc := services.NewFileService(d.DB, d.Store, cfg.Storage.Prefix)
	if cfg.Storage.MaxImageBytes > 0 {
		fileSvc.MaxImageBytes = cfg.Storage.MaxImageBytes
	}
	if cfg.Storage.MaxVideoBytes > 0 {
		fileSvc.MaxVideoBytes = cfg.Storage.MaxVideoBytes
	}
	payments := services.NewPaymentService(d.DB, d.Gateway, d.Events, cfg.Payment.Currency)
	payments.ClinicName = cfg.Payment.ClinicName
	idem := handlers.NewIdempotencyStore(d.DB, cfg.IdempotencyTTL)

	h := handlers.New(handlers.Deps{
		Slots:       slotSvc,
		Bookings:    services.NewBookingService(d.DB, clock, services.NewSuggestionService(d.DB, slotSvc), d.Events, cfg.Booking.LockTimeout),
		Lifecycle:   services.NewLifecycleService(d.DB, d.Events),
		Payments:    payments,
		Patients:    services.NewPatientService(d.DB, clock),
		Files:       fileSvc,
		Reviews:     services.NewReviewService(d.DB),
		Reconciler:  services.NewReconcileService(d.DB, cfg.Booking.LockTimeout),
		Idempotency: idem,
	})

	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	}

	// Versioned API: every route needs an identity
	api := groupWithPrefix(r, apiBase)
	api.Use(
		middleware.Authenticate(middleware.AuthOptions{
			Secret:         cfg.Auth.JWTSecret,
			HeaderFallback: cfg.Auth.HeaderFallback,
		}),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, idem.Exists),
		middleware.RateLimit(limiter, middleware.KeyByUserOrIP()),
		middleware.SecurityHeaders(middleware.SecurityOptions{
			EnableHSTS: cfg.Security.EnableHSTS,
			HSTSMaxAge: cfg.Security.HSTSMaxAge,
			NoStore:    true,
		}),
	)
	{
		// Shared by both roles
		api.GET("/slots", h.ListSlots)
		api.GET("/reviews", h.ListReviews)

		// Gateway callbacks; the signature is what authorizes them
		api.POST("/payments/verify", h.VerifyPayment)
		api.POST("/payments/failure", h.PaymentFailure)
	}

	// Self-service entry points. Staff act on a patient's behalf through
	// /staff instead.
	patient := api.Group("", middleware.RequireRole(middleware.RolePatient))
	{
		patient.POST("/patients", h.Register)
		patient.GET("/me", h.Me)
		patient.GET("/me/appointments", h.MyAppointments)
		patient.GET("/me/files", h.ListFiles)

		patient.POST("/bookings", h.Book)

		patient.POST("/appointments/:id/payment", h.InitiatePayment)
		patient.GET("/appointments/:id/receipt", h.Receipt)

		patient.POST("/files", h.UploadFile)
		patient.DELETE("/files/:id", h.DeleteFile)

		patient.POST("/reviews", h.CreateReview)
	}

	staff := api.Group("/staff", middleware.RequireRole(middleware.RoleStaff))
	{
		staff.GET("/slots", h.StaffListSlots)
		staff.PATCH("/slots/:id", h.SetSlotActive)
		staff.GET("/templates", h.ListTemplates)
		staff.POST("/templates", h.InitTemplates)
		staff.PATCH("/templates/:id", h.SetTemplateActive)

		staff.POST("/bookings", h.StaffBook)
		staff.GET("/appointments", h.ListAppointments)
		staff.GET("/appointments/:id", h.GetAppointment)
		staff.GET("/appointments/:id/files", h.ListAppointmentFiles)
		staff.DELETE("/appointments/:id", h.DeleteAppointment)
		staff.POST("/appointments/:id/confirm", h.ConfirmAppointment)
		staff.POST("/appointments/:id/complete", h.CompleteAppointment)
		staff.POST("/appointments/:id/cancel", h.CancelAppointment)
		staff.POST("/appointments/:id/mark-paid", h.MarkPaid)
		staff.PUT("/appointments/:id/fee", h.SetFee)

		staff.GET("/patients", h.ListPatients)
		staff.GET("/reviews", h.StaffListReviews)
		staff.POST("/reviews/:id/approve", h.ApproveReview)
		staff.DELETE("/reviews/:id", h.DeleteReview)
		staff.POST("/reconcile", h.Reconcile)
	}
}

// useCORS installs gin-contrib/cors. With no allowlist every origin is
// accepted without credentials; otherwise allowed origins are echoed.
func useCORS(r *gin.Engine, cc config.CORSConfig) {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderUserID, middleware.HeaderRole, middleware.HeaderIdempotencyKey, "If-None-Match",
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(cc.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		base.AllowAllOrigins = true
		r.Use(cors.New(base))
		return
	}

	allowed := make(map[string]struct{}, len(cc.AllowedOrigins))
	for _, o := range cc.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	base.AllowOrigins = cc.AllowedOrigins
	r.Use(cors.New(base))
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Routes listed in byRoute (keyed by the matched route pattern) get their
// own cap. Requests exceeding the cap make downstream body reads fail.
func limitBody(maxBytes int64, byRoute map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		if n, ok := byRoute[c.FullPath()]; ok {
			limit = n
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func maxUpload(s config.StorageConfig) int64 {
	n := services.DefaultMaxVideoBytes
	if s.MaxVideoBytes > n {
		n = s.MaxVideoBytes
	}
	if s.MaxImageBytes > n {
		n = s.MaxImageBytes
	}
	return n
}

func normalizeBase(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	return p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
