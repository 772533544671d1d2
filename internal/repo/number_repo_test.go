package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

func TestCreateNumber_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	n, err := CreateNumber(context.Background(), db, "PN1", "+15550000001", time.Now())
	if err == nil || n != nil {
		t.Fatalf("expected error creating without table, got n=%v err=%v", n, err)
	}
}

func TestCreateNumber_PersistsAndRejectsDuplicates(t *testing.T) {
	db := newTestDB(t, &domain.LeasedNumber{})
	ctx := context.Background()
	lease := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	n, err := CreateNumber(ctx, db, "PN1", "+15550000001", lease)
	if err != nil {
		t.Fatalf("CreateNumber: %v", err)
	}
	if n.ID == "" || !n.LeaseExpiry.Equal(lease) || n.CreatedAt.IsZero() {
		t.Fatalf("unexpected number: %+v", n)
	}

	got, err := GetNumberByRef(ctx, db, "PN1")
	if err != nil || got.PhoneNumber != "+15550000001" {
		t.Fatalf("GetNumberByRef: got=%+v err=%v", got, err)
	}

	_, err = CreateNumber(ctx, db, "PN2", "+15550000001", lease)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation on phone, got %v", err)
	}

	if _, err := GetNumberByRef(ctx, db, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNumbers_OrderAndPaging(t *testing.T) {
	db := newTestDB(t, &domain.LeasedNumber{})
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order on purpose.
	if _, err := CreateNumber(ctx, db, "PN3", "+15550000003", base.AddDate(0, 0, 3)); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateNumber(ctx, db, "PN1", "+15550000001", base.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateNumber(ctx, db, "PN2", "+15550000002", base.AddDate(0, 0, 2)); err != nil {
		t.Fatal(err)
	}

	all, err := ListNumbers(ctx, db)
	if err != nil {
		t.Fatalf("ListNumbers: %v", err)
	}
	if len(all) != 3 || all[0].ProviderRef != "PN1" || all[2].ProviderRef != "PN3" {
		t.Fatalf("unexpected order: %+v", all)
	}

	page, err := ListNumbersPage(ctx, db, 1, 1)
	if err != nil || len(page) != 1 || page[0].ProviderRef != "PN2" {
		t.Fatalf("ListNumbersPage: page=%+v err=%v", page, err)
	}

	total, err := CountNumbers(ctx, db)
	if err != nil || total != 3 {
		t.Fatalf("CountNumbers: total=%d err=%v", total, err)
	}
}

func TestListExpiredNumbers_InclusiveBoundary(t *testing.T) {
	db := newTestDB(t, &domain.LeasedNumber{})
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := CreateNumber(ctx, db, "PN-past", "+15550000001", now.AddDate(0, 0, -1)); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateNumber(ctx, db, "PN-now", "+15550000002", now); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateNumber(ctx, db, "PN-future", "+15550000003", now.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}

	expired, err := ListExpiredNumbers(ctx, db, now)
	if err != nil {
		t.Fatalf("ListExpiredNumbers: %v", err)
	}
	if len(expired) != 2 || expired[0].ProviderRef != "PN-past" || expired[1].ProviderRef != "PN-now" {
		t.Fatalf("unexpected expired set: %+v", expired)
	}
}

func TestFindFreeNumber_SkipsActiveHolders(t *testing.T) {
	db := newTestDB(t, &domain.LeasedNumber{}, &domain.Verification{})
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := now.AddDate(0, 1, 0)

	if _, err := CreateNumber(ctx, db, "PN1", "+15550000001", lease); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateNumber(ctx, db, "PN2", "+15550000002", lease.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}

	// Empty ledger: earliest lease wins.
	n, err := FindFreeNumber(ctx, db, now)
	if err != nil || n.PhoneNumber != "+15550000001" {
		t.Fatalf("expected +15550000001, got n=%+v err=%v", n, err)
	}

	// Hold the first number actively.
	if _, err := CreateVerification(ctx, db, "s1", "+15550000001", now.Add(15*time.Second)); err != nil {
		t.Fatal(err)
	}
	n, err = FindFreeNumber(ctx, db, now)
	if err != nil || n.PhoneNumber != "+15550000002" {
		t.Fatalf("expected +15550000002, got n=%+v err=%v", n, err)
	}

	// Hold the second one too: nothing free.
	if _, err := CreateVerification(ctx, db, "s2", "+15550000002", now.Add(15*time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := FindFreeNumber(ctx, db, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// After the holds expire, the first number is free again.
	n, err = FindFreeNumber(ctx, db, now.Add(16*time.Second))
	if err != nil || n.PhoneNumber != "+15550000001" {
		t.Fatalf("expected reuse of +15550000001, got n=%+v err=%v", n, err)
	}
}

func TestFindFreeNumber_SkipsLapsedLeases(t *testing.T) {
	db := newTestDB(t, &domain.LeasedNumber{}, &domain.Verification{})
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// A failed release leaves the row behind with the earliest lease.
	if _, err := CreateNumber(ctx, db, "PN-lapsed", "+15550000001", now.AddDate(0, 0, -2)); err != nil {
		t.Fatal(err)
	}
	if _, err := CreateNumber(ctx, db, "PN-due", "+15550000002", now); err != nil {
		t.Fatal(err)
	}
	if _, err := FindFreeNumber(ctx, db, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with only lapsed leases, got %v", err)
	}

	if _, err := CreateNumber(ctx, db, "PN-live", "+15550000003", now.AddDate(0, 0, 1)); err != nil {
		t.Fatal(err)
	}
	n, err := FindFreeNumber(ctx, db, now)
	if err != nil || n.ProviderRef != "PN-live" {
		t.Fatalf("expected PN-live, got n=%+v err=%v", n, err)
	}
}

func TestDeleteNumber_RemovesRow(t *testing.T) {
	db := newTestDB(t, &domain.LeasedNumber{})
	ctx := context.Background()

	n, err := CreateNumber(ctx, db, "PN1", "+15550000001", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := DeleteNumber(ctx, db, n.ID); err != nil {
		t.Fatalf("DeleteNumber: %v", err)
	}
	if total, _ := CountNumbers(ctx, db); total != 0 {
		t.Fatalf("expected empty inventory, got %d", total)
	}
	// Missing row is not an error.
	if err := DeleteNumber(ctx, db, n.ID); err != nil {
		t.Fatalf("DeleteNumber on missing row: %v", err)
	}
}
