package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/domain/access"
	"github.com/vivamoms/consult/internal/platform/apperror"
)

// Profile holds the descriptive fields a user may edit about themselves.
type Profile struct {
	Phone             *string `json:"phone,omitempty"`
	Specialization    *string `json:"specialization,omitempty"`
	Location          *string `json:"location,omitempty"`
	LicenseNumber     *string `json:"license_number,omitempty"`
	YearsOfExperience *int    `json:"years_of_experience,omitempty"`
}

type User struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	Role        access.Role `json:"role"`
	IsActive    bool        `json:"is_active"`
	Profile     Profile     `json:"profile"`
	LastLoginAt *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Actor is the identity the access guard evaluates.
func (u *User) Actor() access.Actor {
	return access.Actor{ID: u.ID, Role: u.Role, IsActive: u.IsActive}
}

type CreateInput struct {
	Email   string      `json:"email"`
	Name    string      `json:"name"`
	Role    access.Role `json:"role"`
	Profile Profile     `json:"profile"`
}

func (in *CreateInput) Validate() error {
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperror.Validation("name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return apperror.Validation("invalid email %q", in.Email)
	}
	if !in.Role.Valid() {
		return apperror.Validation("invalid role %q", in.Role)
	}
	return in.Profile.validate()
}

// ProfileUpdate replaces only the fields that are set.
type ProfileUpdate struct {
	Name              *string `json:"name,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	Specialization    *string `json:"specialization,omitempty"`
	Location          *string `json:"location,omitempty"`
	LicenseNumber     *string `json:"license_number,omitempty"`
	YearsOfExperience *int    `json:"years_of_experience,omitempty"`
}

func (p ProfileUpdate) apply(u *User) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return apperror.Validation("name must not be empty")
		}
		u.Name = name
	}
	if p.Phone != nil {
		u.Profile.Phone = p.Phone
	}
	if p.Specialization != nil {
		u.Profile.Specialization = p.Specialization
	}
	if p.Location != nil {
		u.Profile.Location = p.Location
	}
	if p.LicenseNumber != nil {
		u.Profile.LicenseNumber = p.LicenseNumber
	}
	if p.YearsOfExperience != nil {
		u.Profile.YearsOfExperience = p.YearsOfExperience
	}
	return u.Profile.validate()
}

func (p Profile) validate() error {
	if p.YearsOfExperience != nil && (*p.YearsOfExperience < 0 || *p.YearsOfExperience > 80) {
		return apperror.Validation("years_of_experience out of range")
	}
	return nil
}

// ListFilter selects users by role and active flag.
type ListFilter struct {
	Role       access.Role
	ActiveOnly bool
	Limit      int
	Offset     int
}
