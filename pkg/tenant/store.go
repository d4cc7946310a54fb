package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/graphgate/internal/db"
)

const tenantColumns = `id, slug, created_at, updated_at`

// Store persists tenants.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a tenant store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTenants(rows pgx.Rows) ([]*Tenant, error) {
	defer rows.Close()
	tenants := []*Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// Get returns a tenant by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenant WHERE id = $1`
	return scanTenant(s.dbtx.QueryRow(ctx, query, id))
}

// GetBySlug returns a tenant by slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenant WHERE slug = $1`
	return scanTenant(s.dbtx.QueryRow(ctx, query, slug))
}

// List returns all tenants ordered by slug.
func (s *Store) List(ctx context.Context) ([]*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenant ORDER BY slug`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	return scanTenants(rows)
}

// ListForUser returns the tenants a user is a member of, ordered by slug.
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]*Tenant, error) {
	query := `SELECT t.id, t.slug, t.created_at, t.updated_at
		FROM tenant t
		JOIN user_tenant ut ON ut.tenant_id = t.id
		WHERE ut.user_id = $1
		ORDER BY t.slug`
	rows, err := s.dbtx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing tenants for user: %w", err)
	}
	return scanTenants(rows)
}

// Exists reports whether a tenant with the given ID exists.
func (s *Store) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM tenant WHERE id = $1)`
	if err := s.dbtx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking tenant existence: %w", err)
	}
	return exists, nil
}

// IsMember reports whether a user belongs to a tenant.
func (s *Store) IsMember(ctx context.Context, userID int64, tenantID uuid.UUID) (bool, error) {
	var member bool
	query := `SELECT EXISTS (SELECT 1 FROM user_tenant WHERE user_id = $1 AND tenant_id = $2)`
	if err := s.dbtx.QueryRow(ctx, query, userID, tenantID).Scan(&member); err != nil {
		return false, fmt.Errorf("checking tenant membership: %w", err)
	}
	return member, nil
}

// Create inserts a tenant. The ID comes from the upstream, never generated
// locally.
func (s *Store) Create(ctx context.Context, id uuid.UUID, slug string) (*Tenant, error) {
	query := `INSERT INTO tenant (id, slug)
		VALUES ($1, $2)
		RETURNING ` + tenantColumns
	return scanTenant(s.dbtx.QueryRow(ctx, query, id, slug))
}

// UpdateSlug renames a tenant's slug.
func (s *Store) UpdateSlug(ctx context.Context, id uuid.UUID, slug string) (*Tenant, error) {
	query := `UPDATE tenant SET slug = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + tenantColumns
	return scanTenant(s.dbtx.QueryRow(ctx, query, id, slug))
}

// Delete removes a tenant. Membership rows go with it via the FK cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM tenant WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
