// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Review
// model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/clinic-booking/internal/domain"
)

// CreateReview inserts r. A second review by the same patient yields
// ErrDuplicate.
func CreateReview(ctx context.Context, db *gorm.DB, r *domain.Review) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		if IsDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetReviewByPatient returns the patient's review, or ErrNotFound.
func GetReviewByPatient(ctx context.Context, db *gorm.DB, patientID string) (*domain.Review, error) {
	var r domain.Review
	if err := db.WithContext(ctx).Where("patient_id = ?", patientID).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReviews returns reviews newest first with their patient loaded. When
// approvedOnly is set, unapproved reviews are skipped.
func ListReviews(ctx context.Context, db *gorm.DB, approvedOnly bool, offset, limit int) ([]domain.Review, error) {
	var out []domain.Review
	q := db.WithContext(ctx).Preload("Patient").Order("created_at desc")
	if approvedOnly {
		q = q.Where("is_approved = ?", true)
	}
	err := q.Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountReviews mirrors ListReviews for pagination metadata.
func CountReviews(ctx context.Context, db *gorm.DB, approvedOnly bool) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Review{})
	if approvedOnly {
		q = q.Where("is_approved = ?", true)
	}
	err := q.Count(&n).Error
	return n, err
}

// ApproveReview marks a review approved. It returns ErrNotFound when no row
// matches id.
func ApproveReview(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).
		Model(&domain.Review{}).
		Where("id = ?", id).
		Update("is_approved", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteReview removes a review, or returns ErrNotFound.
func DeleteReview(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Review{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
