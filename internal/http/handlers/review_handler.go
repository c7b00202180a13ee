package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/http/middleware"
)

// CreateReviewRequest is a patient's review.
type CreateReviewRequest struct {
	Rating  int    `json:"rating"  binding:"required,min=1,max=5" example:"5"`
	Comment string `json:"comment" example:"Friendly staff, on time."`
}

// ListReviewsResponse is a page of reviews.
type ListReviewsResponse struct {
	Reviews    []domain.Review `json:"reviews"`
	Pagination Pagination      `json:"pagination"`
}

// CreateReview godoc
// @ID          createReview
// @Summary     Leave a review
// @Description One review per patient. Reviews are published after staff approval.
// @Tags        Reviews
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.CreateReviewRequest  true  "Review"
// @Success     201  {object}  domain.Review
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse "not_registered"
// @Failure     409  {object}  handlers.ErrorResponse
// @Router      /reviews [post]
func (h *Handlers) CreateReview(c *gin.Context) {
	var req CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rating must be between 1 and 5")
		return
	}
	r, err := h.reviews.Create(c.Request.Context(), middleware.UserID(c), req.Rating, req.Comment)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, r)
}

// ListReviews godoc
// @ID          listReviews
// @Summary     Approved reviews
// @Tags        Reviews
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListReviewsResponse
// @Router      /reviews [get]
func (h *Handlers) ListReviews(c *gin.Context) { h.listReviews(c, true) }

// StaffListReviews godoc
// @ID          staffListReviews
// @Summary     All reviews, including unapproved (staff)
// @Tags        Staff
// @Produce     json
// @Security    BearerAuth
// @Param       page       query  int  false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListReviewsResponse
// @Router      /staff/reviews [get]
func (h *Handlers) StaffListReviews(c *gin.Context) { h.listReviews(c, false) }

func (h *Handlers) listReviews(c *gin.Context, approvedOnly bool) {
	page, pageSize := clampPagination(c)
	items, total, err := h.reviews.ListPage(c.Request.Context(), approvedOnly, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, ListReviewsResponse{Reviews: items, Pagination: newPagination(page, pageSize, total)})
}

// ApproveReview godoc
// @ID          approveReview
// @Summary     Publish a review (staff)
// @Tags        Staff
// @Security    BearerAuth
// @Param       id  path  string  true  "Review ID"  format(uuid)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /staff/reviews/{id}/approve [post]
func (h *Handlers) ApproveReview(c *gin.Context) {
	if err := h.reviews.Approve(c.Request.Context(), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}

// DeleteReview godoc
// @ID          deleteReview
// @Summary     Delete a review (staff)
// @Tags        Staff
// @Security    BearerAuth
// @Param       id  path  string  true  "Review ID"  format(uuid)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /staff/reviews/{id} [delete]
func (h *Handlers) DeleteReview(c *gin.Context) {
	if err := h.reviews.Delete(c.Request.Context(), c.Param("id")); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
