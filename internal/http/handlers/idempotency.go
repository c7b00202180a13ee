package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/http/middleware"
)

// headerReplayed marks a response served from a previous keyed request.
const headerReplayed = "Idempotency-Replayed"

// replay answers a retried keyed request from the resource the first attempt
// produced. It reports whether a response was written. Lookup or load
// failures fall through to normal processing.
func (h *Handlers) replay(c *gin.Context, status int, load func(resourceID string) (any, error)) bool {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.idem == nil {
		return false
	}
	ctx := c.Request.Context()
	rid, found, err := h.idem.Lookup(ctx, middleware.UserID(c), middleware.IdempotencyScope(c), key)
	if err != nil || !found {
		return false
	}
	body, err := load(rid)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("resource_id", rid).Msg("idempotent replay failed, processing request")
		return false
	}
	c.Header(headerReplayed, "true")
	ok(c, status, body)
	return true
}

// remember stores the resource a keyed request produced. Best effort.
func (h *Handlers) remember(c *gin.Context, resourceID string, status int) {
	key, has := middleware.GetIdempotencyKey(c)
	if !has || h.idem == nil {
		return
	}
	err := h.idem.Save(c.Request.Context(), middleware.UserID(c), middleware.IdempotencyScope(c), key, resourceID, status)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not saved")
	}
}
