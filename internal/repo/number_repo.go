// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// LeasedNumber inventory.
//
// All functions are context-aware and accept a *gorm.DB handle, so they can
// run inside a transaction opened by the service layer. They follow the thin
// repository approach: query composition only, no business rules.
//
// Functions:
//
//   - CreateNumber(ctx, db, ref, phone, leaseExpiry) -> *domain.LeasedNumber, error
//   - GetNumberByRef(ctx, db, ref) -> *domain.LeasedNumber, error
//   - ListNumbers(ctx, db) -> []domain.LeasedNumber, error
//   - ListNumbersPage(ctx, db, offset, limit) -> []domain.LeasedNumber, error
//   - CountNumbers(ctx, db) -> int64, error
//   - ListExpiredNumbers(ctx, db, now) -> []domain.LeasedNumber, error
//   - FindFreeNumber(ctx, db, now) -> *domain.LeasedNumber, error
//   - DeleteNumber(ctx, db, id) -> error
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateNumber inserts a leased number with a fresh UUID and the given lease
// expiry. Unique violations on the phone number or provider ref are returned
// unchanged; use IsUniqueViolation to detect them.
func CreateNumber(ctx context.Context, db *gorm.DB, providerRef, phone string, leaseExpiry time.Time) (*domain.LeasedNumber, error) {
	n := &domain.LeasedNumber{
		ID:          uuid.NewString(),
		ProviderRef: providerRef,
		PhoneNumber: phone,
		LeaseExpiry: leaseExpiry.UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// GetNumberByRef fetches a number by its provider reference, or ErrNotFound.
func GetNumberByRef(ctx context.Context, db *gorm.DB, providerRef string) (*domain.LeasedNumber, error) {
	var n domain.LeasedNumber
	if err := db.WithContext(ctx).Where("provider_ref = ?", providerRef).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNumbers returns the whole inventory ordered by lease expiry ascending.
func ListNumbers(ctx context.Context, db *gorm.DB) ([]domain.LeasedNumber, error) {
	var out []domain.LeasedNumber
	err := db.WithContext(ctx).
		Order("lease_expiry asc, phone_number asc").
		Find(&out).Error
	return out, err
}

// ListNumbersPage returns a page of the inventory in the same order as
// ListNumbers. The caller computes offset and limit.
func ListNumbersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.LeasedNumber, error) {
	var out []domain.LeasedNumber
	err := db.WithContext(ctx).
		Order("lease_expiry asc, phone_number asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountNumbers returns the inventory size.
func CountNumbers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.LeasedNumber{}).Count(&total).Error
	return total, err
}

// ListExpiredNumbers returns every number whose lease expiry is at or before now.
func ListExpiredNumbers(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.LeasedNumber, error) {
	var out []domain.LeasedNumber
	err := db.WithContext(ctx).
		Where("lease_expiry <= ?", now.UTC()).
		Order("lease_expiry asc").
		Find(&out).Error
	return out, err
}

// FindFreeNumber returns the number with the earliest unexpired lease that is
// not held by any active verification (unfinalized, assignment not expired at
// now). Numbers whose lease has lapsed are awaiting release and never handed
// out. It returns ErrNotFound when no number qualifies.
func FindFreeNumber(ctx context.Context, db *gorm.DB, now time.Time) (*domain.LeasedNumber, error) {
	held := db.Model(&domain.Verification{}).
		Select("assigned_number").
		Where("assigned_number IS NOT NULL AND caller_number IS NULL AND assignment_expiry >= ?", now.UTC())

	var n domain.LeasedNumber
	err := db.WithContext(ctx).
		Where("phone_number NOT IN (?)", held).
		Where("lease_expiry > ?", now.UTC()).
		Order("lease_expiry asc, phone_number asc").
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteNumber hard-deletes a number by id. Deleting a missing row is not an
// error.
func DeleteNumber(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.LeasedNumber{}).Error
}
