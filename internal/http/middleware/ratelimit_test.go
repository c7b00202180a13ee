package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func rateRouter(l Limiter, pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(pre...)
	r.Use(RateLimit(l, nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r http.Handler, uid string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if uid != "" {
		req.Header.Set(HeaderUserID, uid)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThen429(t *testing.T) {
	r := rateRouter(NewRateLimiter(0, 2))

	for i := 0; i < 2; i++ {
		if w := hit(r, ""); w.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, w.Code)
		}
	}
	w := hit(r, "")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("third request = %d retry-after %q", w.Code, w.Header().Get("Retry-After"))
	}
}

func TestRateLimit_KeyedPerUser(t *testing.T) {
	auth := Authenticate(AuthOptions{HeaderFallback: true})
	r := rateRouter(NewRateLimiter(0, 1), auth)

	if w := hit(r, "p-1"); w.Code != http.StatusOK {
		t.Fatalf("p-1 first = %d", w.Code)
	}
	if w := hit(r, "p-1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("p-1 second = %d", w.Code)
	}
	// Same IP, different user: separate bucket.
	if w := hit(r, "p-2"); w.Code != http.StatusOK {
		t.Fatalf("p-2 first = %d", w.Code)
	}
}

func TestRateLimit_ReplayBypasses(t *testing.T) {
	bypass := func(c *gin.Context) { c.Set(ctxKeyRateBypass, true) }
	r := rateRouter(NewRateLimiter(0, 1), bypass)
	for i := 0; i < 5; i++ {
		if w := hit(r, ""); w.Code != http.StatusOK {
			t.Fatalf("replay %d = %d", i, w.Code)
		}
	}
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }

func TestRateLimit_FailsOpen(t *testing.T) {
	if w := hit(rateRouter(errLimiter{}), ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	// An unreachable Redis behaves the same way.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	if w := hit(rateRouter(NewRedisLimiter(client, 1, 1)), ""); w.Code != http.StatusOK {
		t.Fatalf("redis down status = %d", w.Code)
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.gcEvery = 2
	rl.ttl = time.Millisecond

	first := rl.bucket("a")
	time.Sleep(5 * time.Millisecond)
	_ = rl.bucket("b") // triggers the sweep, evicting "a"

	rl.mu.Lock()
	_, ok := rl.visitors["a"]
	rl.mu.Unlock()
	if ok {
		t.Fatal("idle bucket not evicted")
	}
	if rl.bucket("a") == first {
		t.Fatal("evicted key reused its old bucket")
	}
}

func TestNewRedisLimiter_Limit(t *testing.T) {
	tests := []struct {
		rps   float64
		burst int
		want  int64
	}{
		{5, 10, 10},
		{20, 10, 20},
		{0, 0, 1},
	}
	for _, tc := range tests {
		if got := NewRedisLimiter(nil, tc.rps, tc.burst).Limit; got != tc.want {
			t.Errorf("NewRedisLimiter(%v, %d).Limit = %d; want %d", tc.rps, tc.burst, got, tc.want)
		}
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
