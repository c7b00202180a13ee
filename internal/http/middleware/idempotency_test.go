package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct{ userID, scope, key string }

func idemRouter(lookup IdempotencyLookup) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(AuthOptions{HeaderFallback: true}))
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	h := func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	}
	r.POST("/v1/appointments", h)
	r.POST("/v1/appointments/:id/payments", h)
	return r
}

func postIdem(r http.Handler, path, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(HeaderUserID, "p-1")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyValidator_KeyValidation(t *testing.T) {
	r := idemRouter(nil)
	tests := []struct {
		name string
		key  string
		code int
	}{
		{"absent", "", http.StatusOK},
		{"valid", "book-2026-03-14:a.b~c", http.StatusOK},
		{"bad chars", "has space", http.StatusBadRequest},
		{"too long", strings.Repeat("k", 129), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := postIdem(r, "/v1/appointments", tc.key)
			if w.Code != tc.code {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.code, w.Body.String())
			}
			if tc.code == http.StatusBadRequest && !strings.Contains(w.Body.String(), "bad_idempotency_key") {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

func TestIdempotencyValidator_ReplayAndScope(t *testing.T) {
	var calls []lookupCall
	stored := map[lookupCall]bool{
		{"p-1", "POST /v1/appointments/:id/payments 42", "pay-1"}: true,
	}
	r := idemRouter(func(_ context.Context, uid, scope, key string, _ time.Time) (bool, error) {
		c := lookupCall{uid, scope, key}
		calls = append(calls, c)
		return stored[c], nil
	})

	w := postIdem(r, "/v1/appointments/42/payments", "pay-1")
	if !strings.Contains(w.Body.String(), `"replay":true`) || !strings.Contains(w.Body.String(), `"bypass":true`) {
		t.Fatalf("expected replay: %s", w.Body.String())
	}

	// Same key on another appointment is a fresh request.
	w = postIdem(r, "/v1/appointments/43/payments", "pay-1")
	if !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("expected fresh request: %s", w.Body.String())
	}

	w = postIdem(r, "/v1/appointments", "book-1")
	if !strings.Contains(w.Body.String(), `"key":"book-1"`) {
		t.Fatalf("key not stashed: %s", w.Body.String())
	}

	if len(calls) != 3 || calls[2].scope != "POST /v1/appointments" || calls[2].userID != "p-1" {
		t.Fatalf("lookup calls = %+v", calls)
	}
}

func TestIdempotencyValidator_LookupErrorDoesNotBlock(t *testing.T) {
	r := idemRouter(func(context.Context, string, string, string, time.Time) (bool, error) {
		return false, errors.New("db down")
	})
	w := postIdem(r, "/v1/appointments", "k-1")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
}
