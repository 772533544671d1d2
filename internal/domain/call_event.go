package domain

import "time"

// Call outcomes recorded in the call-event journal.
const (
	CallOutcomeMatched   = "matched"
	CallOutcomeUnmatched = "unmatched"
	CallOutcomeDuplicate = "duplicate"
)

// CallEvent journals one inbound-call webhook delivery, keyed by the
// provider's call id. It lets redelivered webhooks be recognized and keeps an
// audit trail of which verification (if any) a call completed. The caller's
// number is intentionally not stored.
type CallEvent struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	CallID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_call_events_call"`
	DialedNumber   string    `gorm:"type:TEXT NOT NULL"`
	Outcome        string    `gorm:"type:TEXT NOT NULL"`
	VerificationID *string   `gorm:"type:TEXT"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime;index"`
}

// TableName implements the GORM tabler interface.
func (CallEvent) TableName() string { return "call_events" }
