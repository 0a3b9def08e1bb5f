package emergency

import (
	"time"

	"github.com/google/uuid"
)

// Status is the emergency request lifecycle state.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClaimed Status = "claimed"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
)

// Request is a geolocated call for an on-duty clinician. While claimed it
// counts as an active consultation between the patient and the claiming
// clinician.
type Request struct {
	ID         uuid.UUID  `json:"id"`
	PatientID  uuid.UUID  `json:"patient_id"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Complaint  string     `json:"complaint"`
	Status     Status     `json:"status"`
	ClaimedBy  *uuid.UUID `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Candidate is a nearby clinician eligible to take the request.
type Candidate struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	Specialty   string    `json:"specialty"`
	DistanceKM  float64   `json:"distance_km"`
}
