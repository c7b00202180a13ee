package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/clinic-booking/internal/config"
	"github.com/tbourn/clinic-booking/internal/events"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
	"github.com/tbourn/clinic-booking/internal/payment"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      100,
		IdempotencyTTL: time.Hour,
		Booking:        config.BookingConfig{LockTimeout: 2 * time.Second, Timezone: "UTC"},
		Payment:        config.PaymentConfig{Currency: "INR"},
		Storage:        config.StorageConfig{Prefix: "clinic", MaxImageBytes: 9 << 20, MaxVideoBytes: 90 << 20},
		Auth:           config.AuthConfig{HeaderFallback: true},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, cfg config.Config, d Deps) *gin.Engine {
	t.Helper()
	if d.DB == nil {
		d.DB = newTestDB(t)
	}
	if d.Gateway == nil {
		d.Gateway = payment.NewFake("secret")
	}
	if d.Store == nil {
		d.Store = storage.NewMemoryStore("https://files.test")
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	r := gin.New()
	RegisterRoutes(r, d, cfg)
	return r
}

func send(r http.Handler, method, path, uid string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set(middleware.HeaderUserID, uid)
		req.Header.Set(middleware.HeaderRole, middleware.RolePatient)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code      string `json:"code"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	if body.RequestID == "" {
		t.Errorf("error body without request_id: %s", w.Body.String())
	}
	return body.Code
}

func TestRegisterRoutes_HealthMetricsFallbacks(t *testing.T) {
	r := newRouter(t, testConfig(), Deps{})

	w := send(r, http.MethodGet, "/health", "", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q; want *", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing baseline headers: %v", w.Header())
	}

	w = send(r, http.MethodGet, "/metrics", "", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "clinic_http_requests_total") {
		t.Fatalf("GET /metrics code=%d", w.Code)
	}

	w = send(r, http.MethodGet, "/nope", "", nil, nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
		t.Fatalf("NoRoute = %d %s", w.Code, w.Body.String())
	}
	w = send(r, http.MethodPut, "/health", "", nil, nil)
	if w.Code != http.StatusMethodNotAllowed || errorCode(t, w) != "method_not_allowed" {
		t.Fatalf("NoMethod = %d %s", w.Code, w.Body.String())
	}

	if w := send(r, http.MethodGet, "/swagger/index.html", "", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger served while disabled: %d", w.Code)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r := newRouter(t, cfg, Deps{})

	w := send(r, http.MethodGet, "/swagger/doc.json", "", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/bookings") {
		t.Fatalf("doc.json = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"https://clinic.example"}
	r := newRouter(t, cfg, Deps{})

	w := send(r, http.MethodGet, "/health", "", nil, map[string]string{"Origin": "https://clinic.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://clinic.example" {
		t.Fatalf("ACAO = %q", got)
	}
	w = send(r, http.MethodGet, "/health", "", nil, map[string]string{"Origin": "https://evil.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin echoed: %q", got)
	}
}

func TestRegisterRoutes_APIPipeline(t *testing.T) {
	r := newRouter(t, testConfig(), Deps{})
	uid := uuid.NewString()

	w := send(r, http.MethodGet, "/api/v1/me", "", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /me = %d", w.Code)
	}

	w = send(r, http.MethodPost, "/api/v1/patients", uid, map[string]string{
		"full_name": "ravi kumar",
		"email":     "ravi@example.com",
		"phone":     "+919811111111",
		"gender":    "M",
		"country":   "India",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Fatalf("API response Cache-Control = %q", got)
	}

	w = send(r, http.MethodGet, "/api/v1/staff/patients", uid, nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("patient on staff route = %d", w.Code)
	}

	staffHdr := map[string]string{middleware.HeaderRole: middleware.RoleStaff}
	w = send(r, http.MethodPost, "/api/v1/bookings", "staff-1", map[string]int{"slot_id": 1}, staffHdr)
	if w.Code != http.StatusForbidden || errorCode(t, w) != "forbidden" {
		t.Fatalf("staff on self-booking route = %d %s", w.Code, w.Body.String())
	}

	w = send(r, http.MethodGet, "/api/v1/reviews", uid, nil, map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("reviews code=%d encoding=%q", w.Code, w.Header().Get("Content-Encoding"))
	}

	w = send(r, http.MethodPost, "/api/v1/bookings", uid, map[string]int{"slot_id": 1},
		map[string]string{middleware.HeaderIdempotencyKey: "bad key!"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "bad_idempotency_key" {
		t.Fatalf("bad idempotency key = %d %s", w.Code, w.Body.String())
	}
}

func TestRegisterRoutes_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS, cfg.RateBurst = 0.001, 1
	r := newRouter(t, cfg, Deps{})

	if w := send(r, http.MethodGet, "/api/v1/reviews", "u-1", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := send(r, http.MethodGet, "/api/v1/reviews", "u-1", nil, nil)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second = %d", w.Code)
	}
	// Buckets are per user.
	if w := send(r, http.MethodGet, "/api/v1/reviews", "u-2", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("other user = %d", w.Code)
	}
	// Health is outside the limited group.
	if w := send(r, http.MethodGet, "/health", "", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func Test_limitBody(t *testing.T) {
	r := gin.New()
	r.Use(limitBody(8, map[string]int64{"/big": 64}))
	read := func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	}
	r.POST("/small", read)
	r.POST("/big", read)

	body := strings.Repeat("x", 32)
	cases := []struct {
		path string
		want int
	}{
		{"/small", http.StatusRequestEntityTooLarge},
		{"/big", http.StatusOK},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, c.path, strings.NewReader(body)))
		if w.Code != c.want {
			t.Errorf("%s = %d; want %d", c.path, w.Code, c.want)
		}
	}
}

func Test_groupWithPrefix(t *testing.T) {
	for _, prefix := range []string{"", "/", "/api/v2"} {
		r := gin.New()
		groupWithPrefix(r, prefix).GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		path := "/ping"
		if prefix == "/api/v2" {
			path = "/api/v2/ping"
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("prefix %q: GET %s = %d", prefix, path, w.Code)
		}
	}
}

func Test_maxUpload(t *testing.T) {
	if got := maxUpload(config.StorageConfig{}); got != 90<<20 {
		t.Fatalf("default = %d", got)
	}
	if got := maxUpload(config.StorageConfig{MaxImageBytes: 200 << 20, MaxVideoBytes: 100 << 20}); got != 200<<20 {
		t.Fatalf("max = %d", got)
	}
}
