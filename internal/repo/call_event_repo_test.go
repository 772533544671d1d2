package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

func TestGetCallEvent_EmptyID_ReturnsNotFound(t *testing.T) {
	db := newTestDB(t, &domain.CallEvent{})

	ev, err := GetCallEvent(context.Background(), db, "   ")
	if ev != nil || err != ErrNotFound {
		t.Fatalf("expected (nil, ErrNotFound) for empty call id, got (%v, %v)", ev, err)
	}
}

func TestCreateCallEvent_SuccessAndDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.CallEvent{})
	ctx := context.Background()
	vid := "v1"

	ev, err := CreateCallEvent(ctx, db, "CA1", "+15550000001", domain.CallOutcomeMatched, &vid)
	if err != nil {
		t.Fatalf("CreateCallEvent: %v", err)
	}
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Fatalf("unexpected event: %+v", ev)
	}

	got, err := GetCallEvent(ctx, db, "CA1")
	if err != nil || got.Outcome != domain.CallOutcomeMatched || got.VerificationID == nil || *got.VerificationID != "v1" {
		t.Fatalf("GetCallEvent: got=%+v err=%v", got, err)
	}

	_, err = CreateCallEvent(ctx, db, "CA1", "+15550000001", domain.CallOutcomeUnmatched, nil)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if _, err := GetCallEvent(ctx, db, "CA-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCallEvent_Error_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, err := CreateCallEvent(context.Background(), db, "CA1", "+1", domain.CallOutcomeUnmatched, nil)
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected raw DB error, got %v", err)
	}
}

func TestDeleteCallEventsBefore(t *testing.T) {
	db := newTestDB(t, &domain.CallEvent{})
	ctx := context.Background()
	now := time.Now().UTC()

	old := &domain.CallEvent{ID: "e-old", CallID: "CA-old", DialedNumber: "+1", Outcome: domain.CallOutcomeUnmatched, CreatedAt: now.AddDate(0, 0, -2)}
	if err := db.Create(old).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := CreateCallEvent(ctx, db, "CA-new", "+1", domain.CallOutcomeUnmatched, nil); err != nil {
		t.Fatal(err)
	}

	n, err := DeleteCallEventsBefore(ctx, db, now.AddDate(0, 0, -1))
	if err != nil || n != 1 {
		t.Fatalf("retention delete: n=%d err=%v", n, err)
	}
	n, err = DeleteCallEventsBefore(ctx, db, time.Time{})
	if err != nil || n != 1 {
		t.Fatalf("full wipe: n=%d err=%v", n, err)
	}
}

func TestIsConflict_Classification(t *testing.T) {
	cases := map[string]bool{
		"UNIQUE constraint failed: verifications.session_token": true,
		"constraint failed: UNIQUE constraint failed (2067)":    true,
		"database is locked (5) (SQLITE_BUSY)":                  true,
		"database table is locked":                              true,
		"no such table: verifications":                          false,
	}
	for msg, want := range cases {
		if got := IsConflict(errors.New(msg)); got != want {
			t.Fatalf("IsConflict(%q) = %v; want %v", msg, got, want)
		}
	}
	if IsConflict(nil) {
		t.Fatalf("IsConflict(nil) should be false")
	}
}
