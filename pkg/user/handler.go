package user

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/internal/db"
	"github.com/wisbric/graphgate/internal/httpserver"
	"github.com/wisbric/graphgate/pkg/cache"
)

// Handler provides HTTP handlers for the users API.
type Handler struct {
	store  *Store
	hasher *auth.Hasher
	cache  *cache.Cache
	logger *slog.Logger
}

// NewHandler creates a user Handler.
func NewHandler(store *Store, hasher *auth.Hasher, c *cache.Cache, logger *slog.Logger) *Handler {
	return &Handler{store: store, hasher: hasher, cache: c, logger: logger}
}

// Routes returns a chi.Router with all user routes mounted. The router must
// be mounted behind auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireAdmin).Post("/", h.handleCreate)
	r.With(auth.RequireAdmin).Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.With(auth.RequireAdmin).Delete("/", h.handleDelete)
		r.Get("/tenant", h.handleListTenants)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/tenant/{tenantID}", h.handleAddTenant)
			r.Delete("/tenant/{tenantID}", h.handleRemoveTenant)
		})
	})
	return r
}

// resolveID parses the {id} URL parameter, mapping the literal "me" to the
// caller's own ID.
func resolveID(r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "me" {
		if id := auth.FromContext(r.Context()); id != nil {
			return id.ID, true
		}
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.Error("hashing password", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	u, err := h.store.Create(r.Context(), CreateParams{
		Username:     req.Username,
		PasswordHash: hash,
		IsAdmin:      req.IsAdmin,
		Scopes:       req.Scopes,
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			httpserver.RespondError(w, http.StatusConflict, "Already exists")
			return
		}
		h.logger.Error("creating user", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if len(req.Tenants) > 0 {
		if err := h.store.ReplaceTenants(r.Context(), u.ID, req.Tenants); err != nil {
			h.logger.Error("assigning tenants", "user_id", u.ID, "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		u.TenantIDs = req.Tenants
	}
	h.cache.InvalidateUserTenants(r.Context(), u.ID)

	h.logger.Info("user created", "user_id", u.ID, "username", u.Username)
	httpserver.Respond(w, http.StatusCreated, u.ToResponse())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	users, total, err := h.store.List(r.Context(), r.URL.Query().Get("username"), params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing users", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	items := make([]Response, 0, len(users))
	for i := range users {
		items = append(items, users[i].ToResponse())
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := resolveID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	caller := auth.FromContext(r.Context())
	if caller == nil || (!caller.IsAdmin && caller.ID != id) {
		httpserver.RespondError(w, http.StatusForbidden, "Access denied")
		return
	}

	u, err := h.store.Get(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("getting user", "user_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	httpserver.Respond(w, http.StatusOK, u.ToResponse())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := resolveID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	caller := auth.FromContext(r.Context())
	if caller == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if !caller.IsAdmin {
		// Non-admins may only change their own password.
		if caller.ID != id || req.IsActive != nil || req.IsAdmin != nil || req.Scopes != nil || req.Tenants != nil {
			httpserver.RespondError(w, http.StatusForbidden, "Access denied")
			return
		}
	}

	params := UpdateParams{
		IsActive: req.IsActive,
		IsAdmin:  req.IsAdmin,
		Scopes:   req.Scopes,
	}
	if req.Password != nil {
		hash, err := h.hasher.Hash(*req.Password)
		if err != nil {
			h.logger.Error("hashing password", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		params.PasswordHash = &hash
	}

	u, err := h.store.Update(r.Context(), id, params)
	if err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("updating user", "user_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if req.Tenants != nil {
		if err := h.store.ReplaceTenants(r.Context(), id, *req.Tenants); err != nil {
			h.logger.Error("updating tenants", "user_id", id, "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		h.cache.InvalidateUserTenants(r.Context(), id)
	}

	u.TenantIDs, err = h.store.ListTenantIDs(r.Context(), id)
	if err != nil {
		h.logger.Error("loading tenants", "user_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	httpserver.Respond(w, http.StatusOK, u.ToResponse())
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := resolveID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("deleting user", "user_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.cache.InvalidateUserTenants(r.Context(), id)

	h.logger.Info("user deleted", "user_id", id)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	id, ok := resolveID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	caller := auth.FromContext(r.Context())
	if caller == nil || (!caller.IsAdmin && caller.ID != id) {
		httpserver.RespondError(w, http.StatusForbidden, "Access denied")
		return
	}

	tenants, err := h.store.ListTenants(r.Context(), id)
	if err != nil {
		h.logger.Error("listing member tenants", "user_id", id, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	httpserver.Respond(w, http.StatusOK, tenants)
}

func (h *Handler) handleAddTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := resolveID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	if err := h.store.AddTenant(r.Context(), id, tenantID); err != nil {
		if db.IsForeignKeyViolation(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("adding membership", "user_id", id, "tenant_id", tenantID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.cache.InvalidateUserTenants(r.Context(), id)

	h.logger.Info("membership added", "user_id", id, "tenant_id", tenantID)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleRemoveTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := resolveID(r)
	if !ok {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "Invalid tenant ID")
		return
	}

	if err := h.store.RemoveTenant(r.Context(), id, tenantID); err != nil {
		if db.IsNotFound(err) {
			httpserver.RespondError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("removing membership", "user_id", id, "tenant_id", tenantID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.cache.InvalidateUserTenants(r.Context(), id)

	h.logger.Info("membership removed", "user_id", id, "tenant_id", tenantID)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// HandleValidate returns the caller's public user object. Mounted at
// GET /auth/validate behind auth.Middleware; agents use it to self-check
// their tokens.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	if caller == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	u, err := h.store.Get(r.Context(), caller.ID)
	if err != nil {
		h.logger.Error("loading profile", "user_id", caller.ID, "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	httpserver.Respond(w, http.StatusOK, u.ToResponse())
}
