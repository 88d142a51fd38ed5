package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the access level carried in a user's token.
type Role string

const (
	RoleStaff Role = "staff"
	RoleUser  Role = "user"
)

// User represents an account.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	Password  string     `json:"-"`
	IsStaff   bool       `json:"is_staff"`
	Timezone  string     `json:"timezone"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Timezone    string     `json:"timezone"`
	MemberSince time.Time  `json:"member_since"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// Role returns RoleStaff for staff accounts and RoleUser otherwise.
func (u *User) Role() Role {
	if u.IsStaff {
		return RoleStaff
	}
	return RoleUser
}

// Location returns the user's time zone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role(),
		Timezone:    u.Timezone,
		MemberSince: u.CreatedAt,
		LastLogin:   u.LastLogin,
	}
}
