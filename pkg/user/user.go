// Package user implements the local identity store and its HTTP API.
package user

import (
	"time"

	"github.com/google/uuid"
)

// User is an account in the local identity store.
type User struct {
	ID          int64
	Username    string
	Password    string // encoded hash, wire format handled by auth.Hasher
	IsActive    bool
	IsAdmin     bool
	Token       *uuid.UUID
	TokenExpiry *time.Time
	Scopes      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	TenantIDs   []uuid.UUID
}

// CreateRequest is the JSON body for POST /user.
type CreateRequest struct {
	Username string      `json:"username" validate:"required,min=3,max=100"`
	Password string      `json:"password" validate:"required,min=8"`
	IsAdmin  bool        `json:"is_admin"`
	Scopes   string      `json:"scopes"`
	Tenants  []uuid.UUID `json:"tenants"`
}

// UpdateRequest is the JSON body for PATCH /user/{id}. Nil fields are left
// unchanged.
type UpdateRequest struct {
	Password *string      `json:"password" validate:"omitempty,min=8"`
	IsActive *bool        `json:"is_active"`
	IsAdmin  *bool        `json:"is_admin"`
	Scopes   *string      `json:"scopes"`
	Tenants  *[]uuid.UUID `json:"tenants"`
}

// Response is the public JSON shape for a user. Credential material never
// leaves the store through it.
type Response struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	IsActive  bool        `json:"is_active"`
	IsAdmin   bool        `json:"is_admin"`
	Scopes    string      `json:"scopes"`
	Tenants   []uuid.UUID `json:"tenants"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ToResponse converts a User to its public shape.
func (u *User) ToResponse() Response {
	tenants := u.TenantIDs
	if tenants == nil {
		tenants = []uuid.UUID{}
	}
	return Response{
		ID:        u.ID,
		Username:  u.Username,
		IsActive:  u.IsActive,
		IsAdmin:   u.IsAdmin,
		Scopes:    u.Scopes,
		Tenants:   tenants,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
