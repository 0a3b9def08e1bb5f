package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusBooked     Status = "booked"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the allowed next states for each state.
var transitions = map[Status][]Status{
	StatusBooked:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Appointment is a booked consultation between a patient and a clinician.
type Appointment struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	ClinicianID  uuid.UUID  `json:"clinician_id"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	VideoRoom    string     `json:"video_room,omitempty"`
	CancelledBy  *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Party reports whether the account is the patient or clinician on the
// appointment.
func (a *Appointment) Party(accountID uuid.UUID) bool {
	return a.PatientID == accountID || a.ClinicianID == accountID
}
