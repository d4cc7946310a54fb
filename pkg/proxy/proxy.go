// Package proxy implements the GraphQL proxy pipeline: decode the payload,
// check the tenant header against the caller's memberships, rewrite every
// operation for that tenant, forward to the upstream, and filter tenant
// listings out of the response.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/internal/httpserver"
	"github.com/wisbric/graphgate/internal/telemetry"
	"github.com/wisbric/graphgate/pkg/cache"
	"github.com/wisbric/graphgate/pkg/rewrite"
	"github.com/wisbric/graphgate/pkg/upstream"
)

// TenantHeader names the tenant the client wants to act in. The name is part
// of the wire protocol with Prefect-compatible clients.
const TenantHeader = "x-prefect-tenant-id"

// TenantSource reports whether a tenant exists in the local registry.
type TenantSource interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// MembershipSource lists the tenants a user belongs to.
type MembershipSource interface {
	ListTenantIDs(ctx context.Context, userID int64) ([]uuid.UUID, error)
}

// Rewriter authorizes and rewrites a batch of operations for a tenant.
type Rewriter interface {
	Rewrite(ctx context.Context, ops []*rewrite.Operation, tenantID string) error
}

// Forwarder relays a raw request to the upstream GraphQL endpoint.
type Forwarder interface {
	Forward(ctx context.Context, method string, body []byte, header http.Header) (*upstream.ForwardResult, error)
}

// Handler serves the proxy endpoint.
type Handler struct {
	tenants  TenantSource
	members  MembershipSource
	rewriter Rewriter
	upstream Forwarder
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewHandler creates the proxy handler.
func NewHandler(tenants TenantSource, members MembershipSource, rw Rewriter, up Forwarder, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{
		tenants:  tenants,
		members:  members,
		rewriter: rw,
		upstream: up,
		cache:    c,
		logger:   logger,
	}
}

// Routes mounts the proxy endpoints. POST runs behind the given
// authentication middleware; OPTIONS bypasses it so CORS preflights reach
// the upstream untouched.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Options("/", h.HandleOptions)
	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Post("/", h.HandleProxy)
	})
	return r
}

// HandleProxy runs the pipeline for one authenticated GraphQL request.
func (h *Handler) HandleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := auth.FromContext(ctx)
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondOutcome(w, http.StatusBadRequest, "Invalid JSON", "invalid")
		return
	}
	ops, batched, err := decodeOperations(body)
	if err != nil {
		h.respondOutcome(w, http.StatusBadRequest, "Invalid JSON", "invalid")
		return
	}

	rawTenant := r.Header.Get(TenantHeader)
	if rawTenant == "" || rawTenant == "null" {
		h.respondOutcome(w, http.StatusBadRequest, "Please provide tenant ID", "invalid")
		return
	}
	tenantID, err := uuid.Parse(rawTenant)
	if err != nil {
		h.respondOutcome(w, http.StatusBadRequest, "Invalid tenant ID", "invalid")
		return
	}

	exists, err := h.tenantExists(ctx, tenantID)
	if err != nil {
		h.logger.Error("tenant lookup failed", "tenant_id", tenantID, "error", err)
		h.respondOutcome(w, http.StatusInternalServerError, "Internal server error", "internal_error")
		return
	}
	if !exists {
		h.respondOutcome(w, http.StatusBadRequest, "Invalid tenant ID", "invalid")
		return
	}

	memberships, err := h.userTenants(ctx, identity.ID)
	if err != nil {
		h.logger.Error("membership lookup failed", "user_id", identity.ID, "error", err)
		h.respondOutcome(w, http.StatusInternalServerError, "Internal server error", "internal_error")
		return
	}
	tenant := tenantID.String()
	if !memberships[tenant] {
		h.logger.Warn("proxy denied: not a member",
			"user_id", identity.ID, "tenant_id", tenant)
		h.respondOutcome(w, http.StatusForbidden, "Access denied", "denied")
		return
	}

	if err := h.rewriter.Rewrite(ctx, ops, tenant); err != nil {
		var de *rewrite.DenyError
		switch {
		case errors.As(err, &de):
			telemetry.RewriteDeniedTotal.WithLabelValues(de.Reason).Inc()
			h.logger.Warn("proxy denied by rewriter",
				"user_id", identity.ID, "tenant_id", tenant,
				"reason", de.Reason, "detail", de.Detail)
			h.respondOutcome(w, http.StatusForbidden, "Access denied", "denied")
		case errors.Is(err, rewrite.ErrInvalidGraphQL):
			h.respondOutcome(w, http.StatusBadRequest, "Invalid GraphQL", "invalid")
		default:
			h.logger.Error("rewrite failed", "error", err)
			h.respondOutcome(w, http.StatusInternalServerError, "Internal server error", "internal_error")
		}
		return
	}

	payload, err := encodeOperations(ops, batched)
	if err != nil {
		h.logger.Error("encoding rewritten operations", "error", err)
		h.respondOutcome(w, http.StatusInternalServerError, "Internal server error", "internal_error")
		return
	}

	result, err := h.upstream.Forward(ctx, http.MethodPost, payload, forwardHeaders(r.Header))
	if err != nil {
		h.logger.Error("upstream call failed", "error", err)
		h.respondOutcome(w, http.StatusBadGateway, "Upstream unavailable", "upstream_error")
		return
	}

	respBody := result.Body
	if result.Status == http.StatusOK && anyTenantFields(ops) {
		respBody, err = filterTenantRows(result.Body, ops, batched, memberships)
		if err != nil {
			// An unfilterable tenant listing must not reach the client.
			h.logger.Error("filtering tenant response failed", "error", err)
			h.respondOutcome(w, http.StatusInternalServerError, "Internal server error", "internal_error")
			return
		}
	}

	telemetry.ProxyRequestsTotal.WithLabelValues("forwarded").Inc()
	relayResponse(w, result.Status, result.Header, respBody)
}

// HandleOptions forwards preflight requests that the CORS middleware did not
// answer locally.
func (h *Handler) HandleOptions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	result, err := h.upstream.Forward(r.Context(), http.MethodOptions, body, stripHopByHop(r.Header))
	if err != nil {
		h.logger.Error("upstream OPTIONS failed", "error", err)
		httpserver.RespondError(w, http.StatusBadGateway, "Upstream unavailable")
		return
	}
	relayResponse(w, result.Status, result.Header, result.Body)
}

func (h *Handler) respondOutcome(w http.ResponseWriter, status int, message, outcome string) {
	telemetry.ProxyRequestsTotal.WithLabelValues(outcome).Inc()
	httpserver.RespondError(w, status, message)
}

// tenantExists consults the cache first and falls back to the registry. The
// cache is advisory: lookup errors inside it surface as misses.
func (h *Handler) tenantExists(ctx context.Context, id uuid.UUID) (bool, error) {
	if exists, ok := h.cache.GetTenantExists(ctx, id.String()); ok {
		return exists, nil
	}
	exists, err := h.tenants.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	h.cache.SetTenantExists(ctx, id.String(), exists)
	return exists, nil
}

// userTenants returns the caller's membership set, cache first.
func (h *Handler) userTenants(ctx context.Context, userID int64) (map[string]bool, error) {
	if ids, ok := h.cache.GetUserTenants(ctx, userID); ok {
		return membershipSet(ids), nil
	}
	ids, err := h.members.ListTenantIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	h.cache.SetUserTenants(ctx, userID, strs)
	return membershipSet(strs), nil
}

func membershipSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// decodeOperations parses the request payload into the operation batch. A
// single operation object is wrapped; a batch keeps its order. The second
// return value reports whether the payload was a batch, so the forwarded
// body keeps the client's framing.
func decodeOperations(body []byte) ([]*rewrite.Operation, bool, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, false, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var ops []*rewrite.Operation
		if err := json.Unmarshal(body, &ops); err != nil {
			return nil, false, err
		}
		for _, op := range ops {
			if op == nil {
				return nil, false, errors.New("null operation in batch")
			}
		}
		return ops, true, nil
	}
	op := &rewrite.Operation{}
	if err := json.Unmarshal(body, op); err != nil {
		return nil, false, err
	}
	return []*rewrite.Operation{op}, false, nil
}

func encodeOperations(ops []*rewrite.Operation, batched bool) ([]byte, error) {
	if batched {
		return json.Marshal(ops)
	}
	return json.Marshal(ops[0])
}

func anyTenantFields(ops []*rewrite.Operation) bool {
	for _, op := range ops {
		if len(op.TenantFields) > 0 {
			return true
		}
	}
	return false
}

// hopByHopHeaders never cross the proxy in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(header http.Header) http.Header {
	out := header.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	return out
}

// forwardHeaders sanitizes client headers for the upstream POST. The
// gateway's own auth material stays on this side of the boundary, and
// Accept-Encoding is dropped so the HTTP client negotiates compression
// itself and hands us a decodable body to filter.
func forwardHeaders(header http.Header) http.Header {
	out := stripHopByHop(header)
	out.Del("Authorization")
	out.Del(TenantHeader)
	out.Del("Accept-Encoding")
	out.Del("Content-Length")
	out.Set("Content-Type", "application/json")
	return out
}

// relayResponse writes an upstream response to the client, passing headers
// through except the hop-by-hop set and Content-Length, which is recomputed
// because the body may have been filtered.
func relayResponse(w http.ResponseWriter, status int, header http.Header, body []byte) {
	for name, values := range stripHopByHop(header) {
		if name == "Content-Length" {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
