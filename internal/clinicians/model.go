package clinicians

import (
	"time"

	"github.com/google/uuid"
)

// VerificationStatus tracks the clinical profile review workflow.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusPending    VerificationStatus = "pending"
	StatusVerified   VerificationStatus = "verified"
	StatusRejected   VerificationStatus = "rejected"
)

// Profile is a clinician's clinical profile. Only verified profiles are
// visible in search and eligible for bookings or emergency dispatch.
type Profile struct {
	AccountID      uuid.UUID          `json:"account_id"`
	Specialty      string             `json:"specialty"`
	LicenseNumber  string             `json:"license_number"`
	Bio            string             `json:"bio,omitempty"`
	DocumentIDs    []string           `json:"document_ids,omitempty"`
	Latitude       float64            `json:"latitude"`
	Longitude      float64            `json:"longitude"`
	EmergencyOptIn bool               `json:"emergency_opt_in"`
	Status         VerificationStatus `json:"status"`
	ReviewNote     string             `json:"review_note,omitempty"`
	SubmittedAt    *time.Time         `json:"submitted_at,omitempty"`
	ReviewedAt     *time.Time         `json:"reviewed_at,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Rule is a recurring weekly availability window.
type Rule struct {
	ID          uuid.UUID `json:"id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	Weekday     int       `json:"weekday"` // 0 = Sunday, matching time.Weekday
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	SlotMinutes int       `json:"slot_minutes"`
	Location    string    `json:"location,omitempty"`
}

// Exception overrides availability on a single date. A nil window means
// closed all day; otherwise the window replaces the weekly rules.
type Exception struct {
	ID          uuid.UUID `json:"id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	Date        string    `json:"date"` // YYYY-MM-DD
	StartMinute *int      `json:"start_minute,omitempty"`
	EndMinute   *int      `json:"end_minute,omitempty"`
}

// Closed reports whether the exception blocks the whole day.
func (e Exception) Closed() bool {
	return e.StartMinute == nil || e.EndMinute == nil
}

// Slot is one bookable interval produced by expanding rules.
type Slot struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Location    string    `json:"location,omitempty"`
}
