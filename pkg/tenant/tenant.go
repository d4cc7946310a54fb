// Package tenant manages the gateway's local tenant registry. The registry
// mirrors the upstream's tenants: rows are created through the gateway so
// both sides agree on tenant IDs.
package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a tenant known to the gateway. The ID is the authority on
// tenancy; the slug is display only.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest is the payload for creating a tenant. The name is passed to
// the upstream's create_tenant input and not stored locally.
type CreateRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	Slug string `json:"slug" validate:"required,max=100"`
}

// UpdateRequest is the payload for renaming a tenant's slug.
type UpdateRequest struct {
	Slug string `json:"slug" validate:"required,max=100"`
}
