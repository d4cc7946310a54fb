package tenant

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/graphgate/internal/auth"
	"github.com/wisbric/graphgate/pkg/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRouter(up *upstream.Client) chi.Router {
	h := NewHandler(nil, up, nil, testLogger())
	router := chi.NewRouter()
	router.Mount("/tenant", h.Routes())
	return router
}

func asIdentity(r *http.Request, id *auth.Identity) *http.Request {
	return r.WithContext(auth.NewContext(r.Context(), id))
}

func admin() *auth.Identity {
	return &auth.Identity{ID: 1, Username: "root", IsActive: true, IsAdmin: true}
}

func member() *auth.Identity {
	return &auth.Identity{ID: 2, Username: "alice", IsActive: true}
}

func TestListRequiresIdentity(t *testing.T) {
	router := testRouter(nil)

	r := httptest.NewRequest(http.MethodGet, "/tenant", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGetInvalidID(t *testing.T) {
	router := testRouter(nil)

	r := asIdentity(httptest.NewRequest(http.MethodGet, "/tenant/not-a-uuid", nil), admin())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["error"] != "Invalid tenant ID" {
		t.Errorf("error = %q, want Invalid tenant ID", resp["error"])
	}
}

func TestWritesRequireAdmin(t *testing.T) {
	router := testRouter(nil)
	id := uuid.New().String()

	tests := []struct {
		name   string
		method string
		target string
	}{
		{"create", http.MethodPost, "/tenant"},
		{"update", http.MethodPatch, "/tenant/" + id},
		{"delete", http.MethodDelete, "/tenant/" + id},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := asIdentity(httptest.NewRequest(tt.method, tt.target, strings.NewReader(`{"slug":"x"}`)), member())
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
		})
	}
}

func TestCreateValidation(t *testing.T) {
	router := testRouter(nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "missing slug",
			body:       `{"name":"Acme Corp"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "missing name",
			body:       `{"slug":"acme"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "slug too long",
			body:       `{"name":"Acme Corp","slug":"` + strings.Repeat("a", 101) + `"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "invalid JSON",
			body:       `{bad}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := asIdentity(httptest.NewRequest(http.MethodPost, "/tenant", strings.NewReader(tt.body)), admin())
			r.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// Tenants are created upstream before the local mirror row, so an
// unreachable upstream must fail the request before any local write.
func TestCreateUpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	router := testRouter(upstream.NewClient(srv.URL, time.Second))

	r := asIdentity(httptest.NewRequest(http.MethodPost, "/tenant", strings.NewReader(`{"name":"Acme Corp","slug":"acme"}`)), admin())
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["error"] != "Upstream unavailable" {
		t.Errorf("error = %q, want Upstream unavailable", resp["error"])
	}
}

func TestUpdateInvalidID(t *testing.T) {
	router := testRouter(nil)

	r := asIdentity(httptest.NewRequest(http.MethodPatch, "/tenant/42", strings.NewReader(`{"slug":"acme"}`)), admin())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDeleteInvalidID(t *testing.T) {
	router := testRouter(nil)

	r := asIdentity(httptest.NewRequest(http.MethodDelete, "/tenant/not-a-uuid", nil), admin())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
