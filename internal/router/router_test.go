package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/events"
	"github.com/dfft546/gproxy/internal/httpclient"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/provider"
	"github.com/dfft546/gproxy/internal/snapshot"
	"github.com/dfft546/gproxy/internal/storage/memory"
)

const testUserKey = "test-downstream-key"

// testHarness wires a gin engine against the real built-in adapters
// pointed at local httptest upstreams, mirroring how cmd/gproxy/main.go
// assembles the same pieces, so these tests exercise route parsing and
// protocol dispatch rather than a router-local fake. Providers and
// credentials are seeded into the same storage.Store the admin routes
// read from, then inflated into a snapshot via ReloadSnapshot exactly as
// main.go does on startup.
type testHarness struct {
	router *gin.Engine
}

func newHarness(t *testing.T, upstreams map[string]http.HandlerFunc) *testHarness {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	for name, h := range upstreams {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)

		variant := model.VariantAnthropic
		switch name {
		case "openai":
			variant = model.VariantOpenAI
		case "gemini":
			variant = model.VariantGemini
		}

		id := name + "-id"
		if err := store.UpsertProvider(ctx, model.Provider{ID: id, Name: name, Variant: variant, URLBase: srv.URL, Enabled: true}); err != nil {
			t.Fatalf("seed provider %s: %v", name, err)
		}
		if err := store.UpsertCredential(ctx, model.Credential{
			ID:         name + "-cred",
			ProviderID: id,
			Secret:     model.Secret{Kind: model.SecretAPIKey, APIKey: "sk-test"},
			Weight:     1,
			Enabled:    true,
		}); err != nil {
			t.Fatalf("seed credential %s: %v", name, err)
		}
	}

	if err := store.UpsertUser(ctx, model.User{ID: "u1", Enabled: true}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.UpsertUserKey(ctx, model.UserKey{ID: "k1", UserID: "u1", KeyValue: testUserKey, Enabled: true}); err != nil {
		t.Fatalf("seed user key: %v", err)
	}

	snapStore := snapshot.NewStore(nil)
	deps := Deps{
		Snapshots: snapStore,
		AdminAuth: authtable.NewAdminAuthenticator("admin-secret"),
		Store:     store,
		Hub:       events.New(),
	}
	if err := ReloadSnapshot(ctx, deps); err != nil {
		t.Fatalf("reload snapshot: %v", err)
	}
	deps.Engine = engine.New(snapStore, provider.NewRegistry(), httpclient.NewPool(), deps.Hub, store)

	return &testHarness{router: New(deps)}
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestClaudeMessagesRoute(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"anthropic": jsonHandler(200, `{"id":"msg_1","content":[{"type":"text","text":"hi"}]}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", strings.NewReader(`{"model":"claude-3-opus","messages":[]}`))
	req.Header.Set("x-api-key", testUserKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "msg_1") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestClaudeMessagesRouteUnauthenticated(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"anthropic": jsonHandler(200, `{}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/anthropic/v1/messages", strings.NewReader(`{"model":"x"}`))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestOpenAIChatCompletionsRoute(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"openai": jsonHandler(200, `{"id":"chatcmpl_1","choices":[]}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/openai/v1/chat/completions", strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	req.Header.Set("Authorization", "Bearer "+testUserKey)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "chatcmpl_1") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestGeminiModelActionRoute(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"gemini": jsonHandler(200, `{"candidates":[]}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/gemini/v1beta/models/gemini-1.5-pro:generateContent", strings.NewReader(`{}`))
	req.Header.Set("x-goog-api-key", testUserKey)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGeminiModelGetNoAction(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"gemini": jsonHandler(200, `{"name":"models/gemini-1.5-pro"}`),
	})

	req := httptest.NewRequest(http.MethodGet, "/gemini/v1beta/models/gemini-1.5-pro", nil)
	req.Header.Set("x-goog-api-key", testUserKey)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAggregateModelsFanOut(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"anthropic": jsonHandler(200, `{"data":[{"id":"claude-3-opus"}]}`),
		"openai":    jsonHandler(200, `{"data":[{"id":"gpt-4o"}]}`),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+testUserKey)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "anthropic/claude-3-opus") || !strings.Contains(body, "openai/gpt-4o") {
		t.Fatalf("expected both prefixed ids, got %s", body)
	}
}

func TestAggregateClaudeMessagesSplitsProviderFromModel(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"anthropic": jsonHandler(200, `{"id":"msg_agg"}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"anthropic/claude-3-opus","messages":[]}`))
	req.Header.Set("Authorization", "Bearer "+testUserKey)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "msg_agg") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestAggregateModelSplitRejectsMissingProvider(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"anthropic": jsonHandler(200, `{}`),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"no-slash-model"}`))
	req.Header.Set("Authorization", "Bearer "+testUserKey)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRequiresKey(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/providers", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdminListProviders(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"anthropic": jsonHandler(200, `{}`),
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/providers", nil)
	req.Header.Set("x-admin-key", "admin-secret")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "anthropic") {
		t.Fatalf("expected provider in listing, got %s", rec.Body.String())
	}
}
