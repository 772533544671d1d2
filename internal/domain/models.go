// Package domain defines the persistence models for leased phone numbers,
// verification records, and browser sessions. These types are mapped with
// GORM and form the core data layer of the verification service.
package domain

import (
	"time"
)

// LeasedNumber is a phone number rented from the telephony provider. The
// number stays in the pool until its lease expires and reclamation releases
// it back to the provider.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ProviderRef: the provider's handle for the number (e.g. a Twilio PN SID),
//     used to release it. Unique. Never serialized: it is an account-scoped
//     identifier and the inventory listing is public.
//   - PhoneNumber: the dialable number in E.164 form. Unique.
//   - LeaseExpiry: instant after which the provider-side lease must be
//     relinquished; always the start of a day.
//   - CreatedAt: row creation timestamp managed by GORM.
type LeasedNumber struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	ProviderRef string    `json:"-"            gorm:"type:varchar(64);not null;uniqueIndex:ux_leased_numbers_ref"`
	PhoneNumber string    `json:"phone_number" gorm:"type:varchar(20);not null;uniqueIndex:ux_leased_numbers_phone"`
	LeaseExpiry time.Time `json:"lease_expiry" gorm:"not null;index:idx_leased_numbers_expiry"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for LeasedNumber.
func (LeasedNumber) TableName() string { return "leased_numbers" }

// LeaseExpired reports whether the provider lease has lapsed at t.
func (n LeasedNumber) LeaseExpired(t time.Time) bool {
	return !n.LeaseExpiry.After(t)
}

// Verification is the ledger row for one session's verification attempt.
// A row with a non-nil CallerNumber is terminal: it is never reassigned a new
// number and its caller is never overwritten.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - SessionToken: opaque session identifier handed in by the session layer.
//     Unique, so a concurrent double insert for the same session fails.
//   - AssignedNumber: the leased number currently bound to the session.
//   - AssignmentExpiry: deadline by which the inbound call must arrive. Once
//     finalized it records the instant the call was matched.
//   - CallerNumber: the number that dialed in; set exactly once.
type Verification struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	SessionToken     string    `json:"session_token"     gorm:"type:varchar(64);not null;uniqueIndex:ux_verifications_session"`
	AssignedNumber   *string   `json:"assigned_number"   gorm:"type:varchar(20);index:idx_verifications_number,priority:1"`
	AssignmentExpiry time.Time `json:"assignment_expiry" gorm:"not null;index:idx_verifications_number,priority:2"`
	CallerNumber     *string   `json:"caller_number"     gorm:"type:varchar(50)"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Verification.
func (Verification) TableName() string { return "verifications" }

// Finalized reports whether an inbound call has completed this verification.
func (v Verification) Finalized() bool { return v.CallerNumber != nil }

// ActiveAt reports whether the row still holds its number exclusively at t:
// it has a number, is not finalized, and its assignment has not expired.
func (v Verification) ActiveAt(t time.Time) bool {
	return v.AssignedNumber != nil && !v.Finalized() && !v.AssignmentExpiry.Before(t)
}

// Session is an opaque, server-issued browser session. The verification
// endpoints only accept tokens that exist here and have not expired.
type Session struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	UserAgent string    `json:"user_agent" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index:idx_sessions_expires"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }
