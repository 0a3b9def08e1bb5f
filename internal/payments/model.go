package payments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

// Payment is a deposit charged for an appointment.
type Payment struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	ProviderRef   string     `json:"provider_ref,omitempty"`
	RefundedBy    *uuid.UUID `json:"refunded_by,omitempty"`
	RefundReason  string     `json:"refund_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
