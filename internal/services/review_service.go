// Package services – ReviewService
//
// This file implements ReviewService, which records a patient's rating of
// the clinic. Each patient may leave a single review; staff moderate reviews
// and only approved ones are shown publicly.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
	"github.com/tbourn/clinic-booking/internal/repo"
	"github.com/tbourn/clinic-booking/internal/utils"
)

// ReviewService manages patient reviews.
type ReviewService struct {
	DB *gorm.DB

	// MaxCommentRunes caps comment length; 0 means unlimited.
	MaxCommentRunes int
}

// NewReviewService constructs a ReviewService.
func NewReviewService(db *gorm.DB) *ReviewService {
	return &ReviewService{DB: db, MaxCommentRunes: 2000}
}

// Create stores the review of patientID.
//
// Semantics and validation:
//   - rating must be 1..5; the comment is trimmed and clipped.
//   - The review starts unapproved.
//
// Errors:
//   - ErrInvalidReview, ErrPatientNotFound.
//   - ErrReviewExists if the patient already left a review.
func (s *ReviewService) Create(ctx context.Context, patientID string, rating int, comment string) (*domain.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidReview
	}
	comment = strings.TrimSpace(comment)
	if s.MaxCommentRunes > 0 && utf8.RuneCountInString(comment) > s.MaxCommentRunes {
		comment = string([]rune(comment)[:s.MaxCommentRunes])
	}

	if _, err := repo.GetPatient(ctx, s.DB, patientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	r := &domain.Review{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Rating:    rating,
		Comment:   comment,
	}
	if err := repo.CreateReview(ctx, s.DB, r); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrReviewExists
		}
		return nil, err
	}
	return r, nil
}

// ListPage returns a page of reviews, newest first. Public callers pass
// approvedOnly = true.
func (s *ReviewService) ListPage(ctx context.Context, approvedOnly bool, page, pageSize int) ([]domain.Review, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	total, err := repo.CountReviews(ctx, s.DB, approvedOnly)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Review{}, 0, nil
	}
	items, err := repo.ListReviews(ctx, s.DB, approvedOnly, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Approve publishes a review.
func (s *ReviewService) Approve(ctx context.Context, id string) error {
	if err := repo.ApproveReview(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrReviewNotFound
		}
		return err
	}
	return nil
}

// Delete removes a review.
func (s *ReviewService) Delete(ctx context.Context, id string) error {
	if err := repo.DeleteReview(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrReviewNotFound
		}
		return err
	}
	return nil
}
