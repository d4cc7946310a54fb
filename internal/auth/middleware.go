package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/graphgate/internal/db"
)

// Middleware returns an HTTP middleware that authenticates the caller via an
// opaque bearer token and stores the resulting Identity in the request
// context.
//
// The token is read from "Authorization: Bearer <token>"; a bare token
// without the prefix is also accepted, since the legacy agents send it that
// way. Rejections use the documented reasons: "Invalid token",
// "Inactive user", "Expired token".
func Middleware(source IdentitySource, loc *time.Location, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := ExtractToken(r)
			if raw == "" {
				respondErr(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			token, err := uuid.Parse(raw)
			if err != nil {
				respondErr(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			id, err := source.IdentityByToken(r.Context(), token)
			if err != nil {
				if db.IsNotFound(err) {
					respondErr(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				logger.Error("token lookup failed", "error", err)
				respondErr(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			if !id.IsActive {
				respondErr(w, http.StatusUnauthorized, "Inactive user")
				return
			}

			// A token without an expiry never expires.
			if id.TokenExpiry != nil && !id.TokenExpiry.After(time.Now().In(loc)) {
				respondErr(w, http.StatusUnauthorized, "Expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
		})
	}
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	return raw
}

// RequireAdmin rejects callers whose identity lacks the admin flag. It must
// run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := FromContext(r.Context())
		if id == nil {
			respondErr(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		if !id.IsAdmin {
			respondErr(w, http.StatusForbidden, "Admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondErr(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
