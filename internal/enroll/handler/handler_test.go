package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"unum/internal/anchor"
	"unum/internal/commitment"
	"unum/internal/dupindex"
	"unum/internal/enroll"
	"unum/internal/metadata"
	"unum/internal/registry"
	"unum/internal/revocation"
	id "unum/pkg/domain"
	"unum/pkg/requestcontext"
)

const controllerHeader = "X-Controller"

type okSubmitter struct{}

func (okSubmitter) Submit(_ context.Context, _ metadata.Document) (anchor.Confirmation, error) {
	return anchor.Confirmation{TxID: "tx-test", AnchoredAt: time.Now()}, nil
}

func newRouter(t *testing.T) chi.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	index := dupindex.NewInMemory()
	identities := registry.NewInMemory()
	gateway := anchor.New(okSubmitter{}, index, logger, anchor.WithBaseBackoff(time.Millisecond))
	revoker := revocation.NewService(identities, index, gateway, revocation.NewInMemoryRecordStore(), nil, logger)
	svc := enroll.New(index, identities, gateway, revoker, enroll.WithLogger(logger))

	r := chi.NewRouter()
	// Stands in for the JWT middleware: the controller arrives via header.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			if c := req.Header.Get(controllerHeader); c != "" {
				ctx = requestcontext.WithControllerID(ctx, id.ControllerID(c))
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(svc, logger).Register(r)
	return r
}

func validCommitment(tag byte) string {
	raw := make([]byte, commitment.Size)
	for i := range raw {
		raw[i] = tag ^ byte(i*11)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func doJSON(t *testing.T, router chi.Router, method, path, controller string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if controller != "" {
		req.Header.Set(controllerHeader, controller)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestEnrollRequiresAuth(t *testing.T) {
	router := newRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/identities", "", map[string]any{
		"commitment":  validCommitment(1),
		"network":     "mainnet",
		"controllers": []string{"ctrl-a"},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without controller, got %d", rec.Code)
	}
}

func TestEnrollAndResolve(t *testing.T) {
	router := newRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-a", map[string]any{
		"commitment":  validCommitment(2),
		"network":     "mainnet",
		"controllers": []string{"ctrl-a"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var enrolled struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&enrolled); err != nil {
		t.Fatalf("decode enroll response: %v", err)
	}
	if enrolled.DID == "" {
		t.Fatal("expected did in response")
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/identities/"+enrolled.DID, nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 resolving, got %d", getRec.Code)
	}
	var identity struct {
		State         string   `json:"state"`
		Controllers   []string `json:"controllers"`
		SchemaVersion string   `json:"schemaVersion"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&identity); err != nil {
		t.Fatalf("decode identity response: %v", err)
	}
	if identity.State != "active" {
		t.Fatalf("expected active identity, got %q", identity.State)
	}
	if identity.SchemaVersion != "1.1" {
		t.Fatalf("expected current schema version, got %q", identity.SchemaVersion)
	}
}

func TestEnrollDuplicateReturnsConflict(t *testing.T) {
	router := newRouter(t)
	payload := map[string]any{
		"commitment":  validCommitment(3),
		"network":     "mainnet",
		"controllers": []string{"ctrl-a"},
	}
	if rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-a", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first enrollment failed: %d", rec.Code)
	}

	payload["controllers"] = []string{"ctrl-b"}
	rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-b", payload)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
}

func TestEnrollValidation(t *testing.T) {
	router := newRouter(t)

	cases := []struct {
		name    string
		payload map[string]any
	}{
		{"missing commitment", map[string]any{"network": "mainnet", "controllers": []string{"c"}}},
		{"bad base64", map[string]any{"commitment": "!!!", "network": "mainnet", "controllers": []string{"c"}}},
		{"missing network", map[string]any{"commitment": validCommitment(4), "controllers": []string{"c"}}},
		{"no controllers", map[string]any{"commitment": validCommitment(4), "network": "mainnet"}},
		{"unknown version", map[string]any{"commitment": validCommitment(4), "network": "mainnet", "controllers": []string{"c"}, "schemaVersion": "2.0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-a", tc.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestLegacyVersionWithTwoControllers(t *testing.T) {
	router := newRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-a", map[string]any{
		"commitment":    validCommitment(5),
		"network":       "mainnet",
		"controllers":   []string{"ctrl-a", "ctrl-b"},
		"schemaVersion": "1.0",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for two controllers under 1.0, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRevokeFlow(t *testing.T) {
	router := newRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-a", map[string]any{
		"commitment":  validCommitment(6),
		"network":     "preprod",
		"controllers": []string{"ctrl-a"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enrollment failed: %d", rec.Code)
	}
	var enrolled struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&enrolled); err != nil {
		t.Fatalf("decode enroll response: %v", err)
	}

	t.Run("unauthorized controller gets 403", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/identities/"+enrolled.DID+"/revoke", "ctrl-intruder", map[string]any{})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("controller revokes", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/identities/"+enrolled.DID+"/revoke", "ctrl-a", map[string]any{"reason": "user request"})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("second revoke conflicts", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/identities/"+enrolled.DID+"/revoke", "ctrl-a", map[string]any{})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})
}

func TestRotateFlow(t *testing.T) {
	router := newRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/identities", "ctrl-a", map[string]any{
		"commitment":  validCommitment(7),
		"network":     "mainnet",
		"controllers": []string{"ctrl-a"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enrollment failed: %d", rec.Code)
	}
	var enrolled struct {
		DID string `json:"did"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&enrolled); err != nil {
		t.Fatalf("decode enroll response: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/identities/"+enrolled.DID+"/controllers", "ctrl-a", map[string]any{
		"controllers": []string{"ctrl-b"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 rotating, got %d: %s", rec.Code, rec.Body.String())
	}

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/identities/"+enrolled.DID, nil))
	var identity struct {
		Controllers []string `json:"controllers"`
		Sequence    int      `json:"sequence"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&identity); err != nil {
		t.Fatalf("decode identity response: %v", err)
	}
	if len(identity.Controllers) != 1 || identity.Controllers[0] != "ctrl-b" {
		t.Fatalf("expected controllers [ctrl-b], got %v", identity.Controllers)
	}
	if identity.Sequence != 2 {
		t.Fatalf("expected sequence 2 after rotation, got %d", identity.Sequence)
	}
}

func TestResolveUnknownDID(t *testing.T) {
	router := newRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/identities/did:cardano:mainnet:zMissing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
