// Package seed provisions the initial admin account so a fresh deployment
// can be logged into.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/internal/config"
	"github.com/wisbric/graphgate/pkg/upstream"
)

const (
	tenantBySlugQuery    = `query($slug: String!) { tenant(where: {slug: {_eq: $slug}}) { id } }`
	createTenantMutation = `mutation($input: create_tenant_input!) { create_tenant(input: $input) { id } }`
)

// Run seeds the admin user and, when SEED_TENANT_SLUG is set, ensures that
// tenant exists upstream, mirrors it locally, and makes the admin a member.
// Re-running resets the admin password to the configured one and leaves
// everything else in place.
func Run(ctx context.Context, pool *pgxpool.Pool, cfg *config.Config, logger *slog.Logger) error {
	if cfg.AdminPassword == "" {
		return errors.New("ADMIN_PASSWORD must be set for seeding")
	}

	hasher := auth.NewHasher(cfg.PasswordHashAlgorithm, cfg.PasswordHashIterations)
	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}

	var adminID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO "user" (username, password, is_admin)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (username) DO UPDATE
			SET password = EXCLUDED.password, is_admin = TRUE, updated_at = now()
		RETURNING id`,
		cfg.AdminUsername, hash,
	).Scan(&adminID)
	if err != nil {
		return fmt.Errorf("seeding admin user: %w", err)
	}
	logger.Info("seed: admin user ready", "username", cfg.AdminUsername, "user_id", adminID)

	if cfg.SeedTenantSlug == "" {
		return nil
	}

	tenantID, err := ensureUpstreamTenant(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO tenant (id, slug) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		tenantID, cfg.SeedTenantSlug,
	); err != nil {
		return fmt.Errorf("mirroring tenant locally: %w", err)
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO user_tenant (user_id, tenant_id) VALUES ($1, $2)
		ON CONFLICT (user_id, tenant_id) DO NOTHING`,
		adminID, tenantID,
	); err != nil {
		return fmt.Errorf("granting admin membership: %w", err)
	}

	logger.Info("seed: admin joined tenant", "slug", cfg.SeedTenantSlug, "tenant_id", tenantID)
	return nil
}

// ensureUpstreamTenant returns the upstream's ID for the seed tenant,
// creating the tenant upstream when it does not exist yet. The upstream owns
// tenant IDs; the gateway never mints them.
func ensureUpstreamTenant(ctx context.Context, cfg *config.Config, logger *slog.Logger) (uuid.UUID, error) {
	client := upstream.NewClient(cfg.PrefectAPIURL, cfg.UpstreamTimeout())
	slug := cfg.SeedTenantSlug

	data, err := client.Query(ctx, tenantBySlugQuery, map[string]any{"slug": slug})
	if err != nil {
		return uuid.Nil, fmt.Errorf("looking up tenant %q upstream: %w", slug, err)
	}
	var lookup struct {
		Tenant []struct {
			ID uuid.UUID `json:"id"`
		} `json:"tenant"`
	}
	if err := json.Unmarshal(data, &lookup); err != nil {
		return uuid.Nil, fmt.Errorf("decoding upstream tenant lookup: %w", err)
	}
	if len(lookup.Tenant) > 0 {
		return lookup.Tenant[0].ID, nil
	}

	data, err = client.Query(ctx, createTenantMutation, map[string]any{
		"input": map[string]any{"name": slug, "slug": slug},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating tenant %q upstream: %w", slug, err)
	}
	var created struct {
		CreateTenant struct {
			ID uuid.UUID `json:"id"`
		} `json:"create_tenant"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.CreateTenant.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("decoding upstream tenant creation: %w", err)
	}
	logger.Info("seed: created tenant upstream", "slug", slug, "tenant_id", created.CreateTenant.ID)
	return created.CreateTenant.ID, nil
}
