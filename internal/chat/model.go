package chat

import (
	"time"

	"github.com/google/uuid"
)

// Thread is the single conversation between a patient and a clinician. One
// thread exists per pair.
type Thread struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Party reports whether the account is on the thread.
func (t *Thread) Party(accountID uuid.UUID) bool {
	return t.PatientID == accountID || t.ClinicianID == accountID
}

// Message is one chat message. DedupKey is chosen by the sending client so
// retries of the same send collapse onto one row.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	ThreadID  uuid.UUID  `json:"thread_id"`
	SenderID  uuid.UUID  `json:"sender_id"`
	Body      string     `json:"body"`
	DedupKey  string     `json:"dedup_key"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`

	// Duplicate marks a replayed send returning the original row. Not
	// persisted.
	Duplicate bool `json:"duplicate,omitempty"`
}

// MessageCreatedEvent is the outbox payload for a freshly inserted message.
// It carries both thread parties so consumers can address the recipient
// without a thread lookup.
type MessageCreatedEvent struct {
	*Message
	PatientID   uuid.UUID `json:"patient_id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
}

// Deny reasons returned by the policy engine.
const (
	ReasonBlocked              = "blocked"
	ReasonNoRecentConsultation = "no_recent_consultation"
	ReasonRateLimited          = "rate_limited"
)

// Decision is the outcome of evaluating the send policy for a patient.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration

	// BypassCaps is set when an active consultation grants unmetered
	// messaging; no quota is consumed for these sends.
	BypassCaps bool
}
