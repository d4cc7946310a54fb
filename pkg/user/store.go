package user

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/internal/db"
	"github.com/wisbric/graphgate/pkg/tenant"
)

// Store provides database operations for users and their tenant memberships.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a user Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const userColumns = `id, username, password, is_active, is_admin, token, token_expiry, scopes, created_at, updated_at`

// scanUser scans a pgx.Row into a User.
func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Password, &u.IsActive, &u.IsAdmin,
		&u.Token, &u.TokenExpiry, &u.Scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// scanUsers scans multiple rows into a User slice.
func scanUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	var items []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Username, &u.Password, &u.IsActive, &u.IsAdmin,
			&u.Token, &u.TokenExpiry, &u.Scopes, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return items, nil
}

// Get returns a single user by ID with tenant memberships populated.
func (s *Store) Get(ctx context.Context, id int64) (User, error) {
	query := `SELECT ` + userColumns + ` FROM "user" WHERE id = $1`
	u, err := scanUser(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		return User{}, err
	}
	u.TenantIDs, err = s.ListTenantIDs(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetByUsername returns a single user by username.
func (s *Store) GetByUsername(ctx context.Context, username string) (User, error) {
	query := `SELECT ` + userColumns + ` FROM "user" WHERE username = $1`
	return scanUser(s.dbtx.QueryRow(ctx, query, username))
}

// List returns a page of users, optionally filtered by a username substring,
// with tenant memberships populated, plus the total match count.
func (s *Store) List(ctx context.Context, usernameFilter string, limit, offset int) ([]User, int, error) {
	pattern := "%" + usernameFilter + "%"

	var total int
	if err := s.dbtx.QueryRow(ctx,
		`SELECT count(*) FROM "user" WHERE username ILIKE $1`, pattern,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM "user" WHERE username ILIKE $1 ORDER BY username LIMIT $2 OFFSET $3`
	rows, err := s.dbtx.Query(ctx, query, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	items, err := scanUsers(rows)
	if err != nil {
		return nil, 0, err
	}

	if err := s.attachTenants(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// attachTenants populates TenantIDs for all users in one query.
func (s *Store) attachTenants(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}
	ids := make([]int64, len(users))
	byID := make(map[int64]*User, len(users))
	for i := range users {
		ids[i] = users[i].ID
		byID[users[i].ID] = &users[i]
	}

	rows, err := s.dbtx.Query(ctx,
		`SELECT user_id, tenant_id FROM user_tenant WHERE user_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("loading memberships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		var tenantID uuid.UUID
		if err := rows.Scan(&userID, &tenantID); err != nil {
			return fmt.Errorf("scanning membership row: %w", err)
		}
		if u, ok := byID[userID]; ok {
			u.TenantIDs = append(u.TenantIDs, tenantID)
		}
	}
	return rows.Err()
}

// CreateParams holds parameters for creating a user.
type CreateParams struct {
	Username     string
	PasswordHash string
	IsAdmin      bool
	Scopes       string
}

// Create inserts a new user.
func (s *Store) Create(ctx context.Context, p CreateParams) (User, error) {
	query := `INSERT INTO "user" (username, password, is_admin, scopes)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + userColumns
	return scanUser(s.dbtx.QueryRow(ctx, query, p.Username, p.PasswordHash, p.IsAdmin, p.Scopes))
}

// UpdateParams holds optional field updates; nil means unchanged.
type UpdateParams struct {
	PasswordHash *string
	IsActive     *bool
	IsAdmin      *bool
	Scopes       *string
}

// Update applies the non-nil fields and returns the updated row.
func (s *Store) Update(ctx context.Context, id int64, p UpdateParams) (User, error) {
	query := `UPDATE "user" SET
		password = COALESCE($2, password),
		is_active = COALESCE($3, is_active),
		is_admin = COALESCE($4, is_admin),
		scopes = COALESCE($5, scopes),
		updated_at = now()
	WHERE id = $1
	RETURNING ` + userColumns
	return scanUser(s.dbtx.QueryRow(ctx, query, id, p.PasswordHash, p.IsActive, p.IsAdmin, p.Scopes))
}

// Delete removes a user; memberships cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM "user" WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListTenantIDs returns the tenant IDs the user belongs to.
func (s *Store) ListTenantIDs(ctx context.Context, userID int64) ([]uuid.UUID, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT tenant_id FROM user_tenant WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTenants returns the tenant rows the user belongs to, ordered by slug.
func (s *Store) ListTenants(ctx context.Context, userID int64) ([]*tenant.Tenant, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT t.id, t.slug, t.created_at, t.updated_at
		FROM tenant t
		JOIN user_tenant ut ON ut.tenant_id = t.id
		WHERE ut.user_id = $1
		ORDER BY t.slug`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing member tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*tenant.Tenant{}
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning member tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// AddTenant makes the user a member of the tenant. Adding an existing
// membership is a no-op.
func (s *Store) AddTenant(ctx context.Context, userID int64, tenantID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx,
		`INSERT INTO user_tenant (user_id, tenant_id) VALUES ($1, $2)
		ON CONFLICT (user_id, tenant_id) DO NOTHING`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("adding membership: %w", err)
	}
	return nil
}

// RemoveTenant revokes the user's membership of the tenant.
func (s *Store) RemoveTenant(ctx context.Context, userID int64, tenantID uuid.UUID) error {
	tag, err := s.dbtx.Exec(ctx,
		`DELETE FROM user_tenant WHERE user_id = $1 AND tenant_id = $2`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("removing membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ReplaceTenants swaps the user's memberships for the given set atomically.
func (s *Store) ReplaceTenants(ctx context.Context, userID int64, tenantIDs []uuid.UUID) error {
	tx, err := s.dbtx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting membership update: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_tenant WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clearing memberships: %w", err)
	}
	for _, tid := range tenantIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_tenant (user_id, tenant_id) VALUES ($1, $2)`, userID, tid); err != nil {
			return fmt.Errorf("adding membership %s: %w", tid, err)
		}
	}

	return tx.Commit(ctx)
}

// IdentityByToken implements auth.IdentitySource.
func (s *Store) IdentityByToken(ctx context.Context, token uuid.UUID) (*auth.Identity, error) {
	var id auth.Identity
	err := s.dbtx.QueryRow(ctx,
		`SELECT id, username, is_active, is_admin, scopes, token_expiry FROM "user" WHERE token = $1`,
		token,
	).Scan(&id.ID, &id.Username, &id.IsActive, &id.IsAdmin, &id.Scopes, &id.TokenExpiry)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// CredentialsByUsername implements auth.CredentialSource.
func (s *Store) CredentialsByUsername(ctx context.Context, username string) (*auth.Identity, string, error) {
	var id auth.Identity
	var encoded string
	err := s.dbtx.QueryRow(ctx,
		`SELECT id, username, password, is_active, is_admin, scopes, token_expiry FROM "user" WHERE username = $1`,
		username,
	).Scan(&id.ID, &id.Username, &encoded, &id.IsActive, &id.IsAdmin, &id.Scopes, &id.TokenExpiry)
	if err != nil {
		return nil, "", err
	}
	return &id, encoded, nil
}

// SetToken implements auth.CredentialSource.
func (s *Store) SetToken(ctx context.Context, userID int64, token uuid.UUID, expiry time.Time) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE "user" SET token = $2, token_expiry = $3, updated_at = now() WHERE id = $1`,
		userID, token, expiry)
	if err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

// ClearToken implements auth.CredentialSource.
func (s *Store) ClearToken(ctx context.Context, userID int64) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE "user" SET token = NULL, token_expiry = NULL, updated_at = now() WHERE id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("clearing token: %w", err)
	}
	return nil
}
