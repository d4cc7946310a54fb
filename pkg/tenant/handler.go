package tenant

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/internal/db"
	"github.com/wisbric/graphgate/internal/httpserver"
	"github.com/wisbric/graphgate/pkg/cache"
	"github.com/wisbric/graphgate/pkg/upstream"
)

// Tenants exist on both sides of the proxy. The gateway creates them
// upstream first and mirrors the row locally under the upstream's ID.
const (
	createTenantMutation = `mutation($input: create_tenant_input!) { create_tenant(input: $input) { id } }`
	updateSlugMutation   = `mutation($input: update_tenant_slug_input!) { update_tenant_slug(input: $input) { id } }`
	deleteTenantMutation = `mutation($input: delete_tenant_input!) { delete_tenant(input: $input) { success } }`
)

// Handler serves tenant endpoints.
type Handler struct {
	store    *Store
	upstream *upstream.Client
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewHandler creates a tenant handler.
func NewHandler(store *Store, up *upstream.Client, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{store: store, upstream: up, cache: c, logger: logger}
}

// Routes returns the tenant router. Reads are open to any authenticated
// user (scoped to their memberships); writes require admin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Post("/", h.handleCreate)
		r.Patch("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var (
		tenants []*Tenant
		err     error
	)
	if identity.IsAdmin {
		tenants, err = h.store.List(r.Context())
	} else {
		tenants, err = h.store.ListForUser(r.Context(), identity.ID)
	}
	if err != nil {
		h.logger.Error("listing tenants", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httpserver.Respond(w, http.StatusOK, tenants)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	if !identity.IsAdmin {
		member, err := h.store.IsMember(r.Context(), identity.ID, id)
		if err != nil {
			h.logger.Error("checking membership", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !member {
			httpserver.RespondError(w, http.StatusForbidden, "Access denied")
			return
		}
	}

	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("fetching tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httpserver.Respond(w, http.StatusOK, t)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	data, err := h.upstream.Query(r.Context(), createTenantMutation, map[string]any{
		"input": map[string]any{"name": req.Name, "slug": req.Slug},
	})
	if err != nil {
		if upstream.IsUnavailable(err) {
			httpserver.RespondError(w, http.StatusBadGateway, "Upstream unavailable")
			return
		}
		h.logger.Error("creating tenant upstream", "slug", req.Slug, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	var created struct {
		CreateTenant struct {
			ID uuid.UUID `json:"id"`
		} `json:"create_tenant"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.CreateTenant.ID == uuid.Nil {
		h.logger.Error("decoding upstream tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	t, err := h.store.Create(r.Context(), created.CreateTenant.ID, req.Slug)
	if err != nil {
		if db.IsUniqueViolation(err) {
			httpserver.RespondError(w, http.StatusConflict, "Already exists")
			return
		}
		h.logger.Error("creating tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// A negative existence verdict may be cached from before the create.
	h.cache.InvalidateTenant(r.Context(), t.ID.String())
	h.logger.Info("tenant created", "tenant_id", t.ID, "slug", t.Slug)
	httpserver.Respond(w, http.StatusCreated, t)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "Invalid tenant ID")
		return
	}
	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("fetching tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if _, err := h.upstream.Query(r.Context(), updateSlugMutation, map[string]any{
		"input": map[string]any{"tenant_id": id.String(), "slug": req.Slug},
	}); err != nil {
		if upstream.IsUnavailable(err) {
			httpserver.RespondError(w, http.StatusBadGateway, "Upstream unavailable")
			return
		}
		h.logger.Error("updating tenant slug upstream", "tenant_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	t, err := h.store.UpdateSlug(r.Context(), id, req.Slug)
	if err != nil {
		if db.IsUniqueViolation(err) {
			httpserver.RespondError(w, http.StatusConflict, "Already exists")
			return
		}
		h.logger.Error("updating tenant slug", "tenant_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("tenant slug updated", "tenant_id", id, "slug", t.Slug)
	httpserver.Respond(w, http.StatusOK, t)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("fetching tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if _, err := h.upstream.Query(r.Context(), deleteTenantMutation, map[string]any{
		"input": map[string]any{"tenant_id": id.String()},
	}); err != nil {
		if upstream.IsUnavailable(err) {
			httpserver.RespondError(w, http.StatusBadGateway, "Upstream unavailable")
			return
		}
		h.logger.Error("deleting tenant upstream", "tenant_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil && !db.IsNotFound(err) {
		h.logger.Error("deleting tenant", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.cache.InvalidateTenant(r.Context(), id.String())
	h.logger.Info("tenant deleted", "tenant_id", id)
	w.WriteHeader(http.StatusNoContent)
}
