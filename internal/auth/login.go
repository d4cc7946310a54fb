package auth

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/graphgate/internal/db"
	"github.com/wisbric/graphgate/internal/httpserver"
)

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// LoginHandler issues and revokes bearer tokens.
type LoginHandler struct {
	creds    CredentialSource
	hasher   *Hasher
	limiter  *RateLimiter // nil when the cache is disabled
	tokenTTL time.Duration
	loc      *time.Location
	logger   *slog.Logger
}

// NewLoginHandler creates a login handler.
func NewLoginHandler(creds CredentialSource, hasher *Hasher, limiter *RateLimiter, tokenTTL time.Duration, loc *time.Location, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		creds:    creds,
		hasher:   hasher,
		limiter:  limiter,
		tokenTTL: tokenTTL,
		loc:      loc,
		logger:   logger,
	}
}

// HandleLogin authenticates a user with username/password and issues a fresh
// bearer token valid for the configured TTL. Failed attempts count against a
// per-username-and-IP rate limit; the limiter fails open when unavailable.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ip := clientIP(r)
	if h.limiter != nil {
		res, err := h.limiter.Check(r.Context(), req.Username, ip)
		if err != nil {
			h.logger.Warn("rate limiter unavailable", "error", err)
		} else if !res.Allowed {
			respondErr(w, http.StatusTooManyRequests, "Too many login attempts")
			return
		}
	}

	id, encoded, err := h.creds.CredentialsByUsername(r.Context(), req.Username)
	if err != nil {
		if !db.IsNotFound(err) {
			h.logger.Error("login: user lookup failed", "username", req.Username, "error", err)
			respondErr(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		h.recordFailure(r, req.Username, ip)
		respondErr(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	if !h.hasher.Verify(req.Password, encoded) {
		h.recordFailure(r, req.Username, ip)
		respondErr(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token := uuid.New()
	expiry := time.Now().In(h.loc).Add(h.tokenTTL)
	if err := h.creds.SetToken(r.Context(), id.ID, token, expiry); err != nil {
		h.logger.Error("login: storing token", "user_id", id.ID, "error", err)
		respondErr(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if h.limiter != nil {
		if err := h.limiter.Reset(r.Context(), req.Username, ip); err != nil {
			h.logger.Warn("resetting rate limit", "error", err)
		}
	}

	h.logger.Info("login", "user_id", id.ID, "username", id.Username)
	httpserver.Respond(w, http.StatusOK, LoginResponse{
		AccessToken: token.String(),
		TokenType:   "bearer",
	})
}

// HandleLogout revokes the caller's current token. It must be mounted behind
// Middleware.
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	id := FromContext(r.Context())
	if id == nil {
		respondErr(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	if err := h.creds.ClearToken(r.Context(), id.ID); err != nil {
		h.logger.Error("logout: clearing token", "user_id", id.ID, "error", err)
		respondErr(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("logout", "user_id", id.ID)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *LoginHandler) recordFailure(r *http.Request, username, ip string) {
	if h.limiter == nil {
		return
	}
	if err := h.limiter.Record(r.Context(), username, ip); err != nil {
		h.logger.Warn("recording failed login", "error", err)
	}
}

// clientIP returns the originating client address, preferring the first
// X-Forwarded-For entry set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
