package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type fakeSource struct {
	identities map[uuid.UUID]*Identity
}

func (f *fakeSource) IdentityByToken(_ context.Context, token uuid.UUID) (*Identity, error) {
	if id, ok := f.identities[token]; ok {
		return id, nil
	}
	return nil, pgx.ErrNoRows
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func future() *time.Time {
	t := time.Now().Add(time.Hour)
	return &t
}

func past() *time.Time {
	t := time.Now().Add(-time.Hour)
	return &t
}

func TestMiddleware(t *testing.T) {
	validToken := uuid.New()
	inactiveToken := uuid.New()
	expiredToken := uuid.New()
	eternalToken := uuid.New()

	source := &fakeSource{identities: map[uuid.UUID]*Identity{
		validToken:    {ID: 1, Username: "alice", IsActive: true, TokenExpiry: future()},
		inactiveToken: {ID: 2, Username: "bob", IsActive: false, TokenExpiry: future()},
		expiredToken:  {ID: 3, Username: "carol", IsActive: true, TokenExpiry: past()},
		eternalToken:  {ID: 4, Username: "dave", IsActive: true, TokenExpiry: nil},
	}}

	mw := Middleware(source, time.UTC, testLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantError  string
	}{
		{
			name:       "no header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid token",
		},
		{
			name:       "not a uuid",
			authHeader: "Bearer not-a-token",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid token",
		},
		{
			name:       "unknown token",
			authHeader: "Bearer " + uuid.New().String(),
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid token",
		},
		{
			name:       "inactive user",
			authHeader: "Bearer " + inactiveToken.String(),
			wantStatus: http.StatusUnauthorized,
			wantError:  "Inactive user",
		},
		{
			name:       "expired token",
			authHeader: "Bearer " + expiredToken.String(),
			wantStatus: http.StatusUnauthorized,
			wantError:  "Expired token",
		},
		{
			name:       "valid bearer token",
			authHeader: "Bearer " + validToken.String(),
			wantStatus: http.StatusOK,
		},
		{
			name:       "bare token without prefix",
			authHeader: validToken.String(),
			wantStatus: http.StatusOK,
		},
		{
			name:       "token without expiry never expires",
			authHeader: "Bearer " + eternalToken.String(),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.authHeader != "" {
				r.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantError != "" {
				var resp map[string]string
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decoding response: %v", err)
				}
				if resp["error"] != tt.wantError {
					t.Errorf("error = %q, want %q", resp["error"], tt.wantError)
				}
			}
		})
	}
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	token := uuid.New()
	source := &fakeSource{identities: map[uuid.UUID]*Identity{
		token: {ID: 7, Username: "alice", IsActive: true, IsAdmin: true, TokenExpiry: future()},
	}}

	var got *Identity
	mw := Middleware(source, time.UTC, testLogger())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token.String())
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if got == nil {
		t.Fatal("expected identity in context")
	}
	if got.ID != 7 || got.Username != "alice" || !got.IsAdmin {
		t.Errorf("identity = %+v, want id=7 username=alice admin", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		identity   *Identity
		wantStatus int
		wantError  string
	}{
		{
			name:       "no identity",
			identity:   nil,
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid token",
		},
		{
			name:       "non-admin",
			identity:   &Identity{ID: 1, Username: "alice"},
			wantStatus: http.StatusForbidden,
			wantError:  "Admin privileges required",
		},
		{
			name:       "admin",
			identity:   &Identity{ID: 1, Username: "root", IsAdmin: true},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.identity != nil {
				r = r.WithContext(NewContext(r.Context(), tt.identity))
			}
			w := httptest.NewRecorder()
			RequireAdmin(next).ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantError != "" {
				var resp map[string]string
				if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
					t.Fatalf("decoding response: %v", err)
				}
				if resp["error"] != tt.wantError {
					t.Errorf("error = %q, want %q", resp["error"], tt.wantError)
				}
			}
		})
	}
}
