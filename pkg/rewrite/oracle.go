package rewrite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wisbric/graphgate/internal/telemetry"
	"github.com/wisbric/graphgate/pkg/cache"
)

// Prober is the upstream surface the oracle needs: a single GraphQL query on
// the gateway's own behalf.
type Prober interface {
	Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// Oracle answers entity-belongs-to-tenant questions by probing the
// upstream's {entity}_by_pk lookup, with verdicts cached on both sides.
// Anything that prevents a positive answer counts as "no": unknown entities,
// upstream failures, missing rows, foreign tenants.
type Oracle struct {
	prober Prober
	cache  *cache.Cache
	logger *slog.Logger
}

// NewOracle creates an Oracle. A nil cache disables caching.
func NewOracle(prober Prober, c *cache.Cache, logger *slog.Logger) *Oracle {
	return &Oracle{prober: prober, cache: c, logger: logger}
}

// Belongs implements BelongingOracle.
func (o *Oracle) Belongs(ctx context.Context, entity, id, tenantID string) bool {
	if verdict, ok := o.cache.GetBelongs(ctx, entity, id, tenantID); ok {
		telemetry.OracleLookupsTotal.WithLabelValues("cached").Inc()
		return verdict
	}
	verdict := o.probe(ctx, entity, id, tenantID)
	if verdict {
		telemetry.OracleLookupsTotal.WithLabelValues("belongs").Inc()
	} else {
		telemetry.OracleLookupsTotal.WithLabelValues("denied").Inc()
	}
	o.cache.SetBelongs(ctx, entity, id, tenantID, verdict)
	return verdict
}

func (o *Oracle) probe(ctx context.Context, entity, id, tenantID string) bool {
	// A stem that is not a GraphQL name can never match a response key, so
	// the round trip is pointless.
	if !graphqlName(entity) {
		return false
	}
	// %q keeps ids with quotes or backslashes from escaping the literal.
	query := fmt.Sprintf(`query { %s_by_pk(id: %q) { tenant_id } }`, entity, id)
	data, err := o.prober.Query(ctx, query, nil)
	if err != nil {
		o.logger.Warn("belonging probe failed", "entity", entity, "id", id, "error", err)
		return false
	}

	var result map[string]*struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		o.logger.Warn("belonging probe returned malformed data", "entity", entity, "error", err)
		return false
	}
	row := result[entity+"_by_pk"]
	return row != nil && row.TenantID == tenantID
}

// graphqlName reports whether s is a valid GraphQL name:
// [_A-Za-z][_0-9A-Za-z]*.
func graphqlName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
