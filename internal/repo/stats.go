// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation and Last-Modified) in the HTTP layer and for the
// inventory gauges. Each function is context-aware and safe to call from
// services or handlers.
package repo

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

// NumbersStats returns aggregate metadata for the number inventory: the total
// number of rows and the latest CreatedAt among them.
//
// When the inventory is empty, the returned count is 0 and maxCreatedAt is nil.
//
// Return values:
//   - count:        total leased numbers
//   - maxCreatedAt: pointer to the greatest CreatedAt, or nil if no rows
//   - err:          database error, if any
func NumbersStats(ctx context.Context, db *gorm.DB) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.LeasedNumber{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// NumbersDigest hashes the identity, phone number and lease expiry of every
// inventory row in id order. Any insert, delete or lease change alters it,
// including ones that leave the count and the newest CreatedAt unchanged.
// An empty inventory digests to the hash of no input.
func NumbersDigest(ctx context.Context, db *gorm.DB) (uint64, error) {
	var rows []struct {
		ID          string
		PhoneNumber string
		LeaseExpiry time.Time
	}
	err := db.WithContext(ctx).Model(&domain.LeasedNumber{}).
		Select("id", "phone_number", "lease_expiry").
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return 0, err
	}

	d := xxhash.New()
	buf := make([]byte, 0, 96)
	for _, r := range rows {
		buf = append(buf[:0], r.ID...)
		buf = append(buf, 0)
		buf = append(buf, r.PhoneNumber...)
		buf = append(buf, 0)
		buf = strconv.AppendInt(buf, r.LeaseExpiry.UTC().UnixNano(), 10)
		buf = append(buf, '\n')
		_, _ = d.Write(buf)
	}
	return d.Sum64(), nil
}

// LedgerStats summarizes the verification ledger at now: rows that actively
// hold a number and rows that are finalized.
func LedgerStats(ctx context.Context, db *gorm.DB, now time.Time) (active, finalized int64, err error) {
	base := db.WithContext(ctx).Model(&domain.Verification{})

	if err = base.Session(&gorm.Session{}).
		Where("caller_number IS NULL AND assigned_number IS NOT NULL AND assignment_expiry >= ?", now.UTC()).
		Count(&active).Error; err != nil {
		return 0, 0, err
	}
	if err = base.Session(&gorm.Session{}).
		Where("caller_number IS NOT NULL").
		Count(&finalized).Error; err != nil {
		return 0, 0, err
	}
	return active, finalized, nil
}
