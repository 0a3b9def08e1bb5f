package accounts

import (
	"time"

	"github.com/google/uuid"
)

// Role is the account type. It is mirrored in the access token claims.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
	RoleAdmin     Role = "admin"
)

// Account is an authenticated user of the platform.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	DisplayName  string    `json:"display_name"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PatientProfile carries patient demographics editable via the portal.
type PatientProfile struct {
	AccountID        uuid.UUID  `json:"account_id"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Sex              string     `json:"sex,omitempty"`
	AddressLine      string     `json:"address_line,omitempty"`
	City             string     `json:"city,omitempty"`
	PostalCode       string     `json:"postal_code,omitempty"`
	EmergencyContact string     `json:"emergency_contact,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
