package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// Profile is stored as a single JSONB column.
type Profile struct {
	Age               *int     `json:"age,omitempty" validate:"omitempty,min=0,max=120"`
	Gender            string   `json:"gender,omitempty" validate:"omitempty,oneof=male female other"`
	Specialization    string   `json:"specialization,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Address           string   `json:"address,omitempty"`
	MedicalConditions []string `json:"medicalConditions,omitempty"`
}

func (p Profile) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Profile) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Profile{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("cannot scan %T into Profile", src)
	}
}

type User struct {
	Base
	Name                string     `json:"name" db:"name"`
	Email               string     `json:"email" db:"email"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	Role                Role       `json:"role" db:"role"`
	Profile             Profile    `json:"profile" db:"profile"`
	ResetTokenHash      *string    `json:"-" db:"reset_token_hash"`
	ResetTokenExpiresAt *time.Time `json:"-" db:"reset_token_expires_at"`
}

// Identity returns the immutable view handed to request handlers.
func (u *User) Identity() AuthenticatedUser {
	return AuthenticatedUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// AuthenticatedUser is the caller identity resolved by the auth gate.
// It is passed by value and never written back to storage.
type AuthenticatedUser struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
}

func (u AuthenticatedUser) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// UserSummary is the populated form of a user reference.
type UserSummary struct {
	ID      uuid.UUID `json:"id" db:"id"`
	Name    string    `json:"name" db:"name"`
	Email   string    `json:"email" db:"email"`
	Profile Profile   `json:"profile" db:"profile"`
}

// DoctorListing is one entry of the public doctor directory.
type DoctorListing struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Email          string    `json:"email" db:"email"`
	Specialization string    `json:"specialization" db:"specialization"`
}

// UpdateProfileRequest is the only shape accepted for profile edits.
// Unknown fields are rejected when decoding.
type UpdateProfileRequest struct {
	Name    *string  `json:"name,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
}
