package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dfft546/gproxy/internal/authtable"
	"github.com/dfft546/gproxy/internal/events"
	"github.com/dfft546/gproxy/internal/httpclient"
	"github.com/dfft546/gproxy/internal/model"
	"github.com/dfft546/gproxy/internal/pool"
	"github.com/dfft546/gproxy/internal/provider"
	"github.com/dfft546/gproxy/internal/snapshot"
	"github.com/dfft546/gproxy/internal/storage/memory"
)

// fakeAdapter is a minimal provider.Adapter for exercising the attempt
// loop and response shaping without a real upstream protocol.
type fakeAdapter struct {
	serverURL      string
	table          provider.DispatchTable
	onUpstreamFail func(provider.UpstreamFailure) provider.AuthRetryAction
	onDecide       func(provider.UpstreamFailure) (provider.UnavailableDecision, bool)
}

func (a *fakeAdapter) DispatchTable(cfg model.Provider) provider.DispatchTable { return a.table }

func (a *fakeAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request) (provider.UpstreamHttpRequest, error) {
	return provider.UpstreamHttpRequest{Method: "POST", URL: a.serverURL, Body: req.Raw, IsStream: req.Stream}, nil
}

func (a *fakeAdapter) LocalResponse(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request) (provider.UpstreamHttpResponse, bool) {
	return provider.UpstreamHttpResponse{}, false
}

func (a *fakeAdapter) UpgradeCredential(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request) (model.Credential, bool, error) {
	return model.Credential{}, false, nil
}

func (a *fakeAdapter) OnAuthFailure(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request, failure provider.UpstreamFailure) provider.AuthRetryAction {
	return provider.AuthRetryAction{Kind: provider.RetryNone}
}

func (a *fakeAdapter) OnUpstreamFailure(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request, failure provider.UpstreamFailure) provider.AuthRetryAction {
	if a.onUpstreamFail != nil {
		return a.onUpstreamFail(failure)
	}
	return provider.AuthRetryAction{Kind: provider.RetryNone}
}

func (a *fakeAdapter) OnUpstreamSuccess(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request, resp provider.UpstreamHttpResponse) (model.Credential, bool) {
	return model.Credential{}, false
}

func (a *fakeAdapter) DecideUnavailable(ctx context.Context, cfg model.Provider, cred model.Credential, req provider.Request, failure provider.UpstreamFailure) (provider.UnavailableDecision, bool) {
	if a.onDecide != nil {
		return a.onDecide(failure)
	}
	return provider.UnavailableDecision{}, false
}

func (a *fakeAdapter) NormalizeNonStreamResponse(ctx context.Context, cfg model.Provider, cred model.Credential, providerProto model.Protocol, op model.Operation, req provider.Request, body []byte) []byte {
	return body
}

func (a *fakeAdapter) OAuthStart(ctx context.Context, cfg model.Provider, req provider.Request) (provider.UpstreamHttpResponse, error) {
	return provider.UpstreamHttpResponse{}, fmt.Errorf("not implemented")
}

func (a *fakeAdapter) OAuthCallback(ctx context.Context, cfg model.Provider, req provider.Request) (provider.UpstreamHttpResponse, *model.Credential, error) {
	return provider.UpstreamHttpResponse{}, nil, fmt.Errorf("not implemented")
}

const fakeVariant model.ProviderVariant = "fake-test"

func newTestEngine(t *testing.T, adapter provider.Adapter, creds []model.Credential) (*Engine, *pool.Pool) {
	t.Helper()
	prov := model.Provider{ID: "prov-1", Name: "testprov", Variant: fakeVariant, Enabled: true}
	pl := pool.New()
	pl.Reset(creds)

	snap := &snapshot.Snapshot{
		Providers: map[string]model.Provider{prov.ID: prov},
		Disallow:  map[string]model.DisallowEntry{},
		Pools:     map[string]*pool.Pool{prov.ID: pl},
		Auth:      authtable.New(),
	}
	store := snapshot.NewStore(snap)

	registry := provider.NewRegistry()
	registry.Register(fakeVariant, adapter)

	return New(store, registry, httpclient.NewPool(), events.New(), memory.New()), pl
}

func oneCred(id string) model.Credential {
	return model.Credential{ID: id, ProviderID: "prov-1", Enabled: true, Weight: 1, Secret: model.Secret{Kind: model.SecretAPIKey, APIKey: "k"}}
}

func TestExecuteNonStreamSameProtocolPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"id":"msg_1","model":"claude-3","content":[{"type":"text","text":"hi"}]}`))
	}))
	defer server.Close()

	table := provider.DispatchTable{
		{Protocol: model.ProtocolClaude, Operation: model.OpGenerateContent}: {Kind: provider.DispatchNative},
	}
	adapter := &fakeAdapter{serverURL: server.URL, table: table}
	eng, _ := newTestEngine(t, adapter, []model.Credential{oneCred("c1")})

	res, err := eng.Execute(context.Background(), Call{
		ProviderName:   "testprov",
		CallerProtocol: model.ProtocolClaude,
		CallerOp:       model.OpGenerateContent,
		Model:          "claude-3",
		Raw:            []byte(`{"model":"claude-3","messages":[]}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != 200 {
		t.Fatalf("status = %d, want 200", res.Status)
	}
	if string(res.Body) != `{"id":"msg_1","model":"claude-3","content":[{"type":"text","text":"hi"}]}` {
		t.Fatalf("body mismatch: %s", res.Body)
	}
}

func TestExecuteProviderNotFound(t *testing.T) {
	adapter := &fakeAdapter{table: provider.DispatchTable{}}
	eng, _ := newTestEngine(t, adapter, []model.Credential{oneCred("c1")})

	_, err := eng.Execute(context.Background(), Call{ProviderName: "missing", CallerProtocol: model.ProtocolClaude, CallerOp: model.OpGenerateContent})
	engErr, ok := err.(*Error)
	if !ok || engErr.Status != 404 || engErr.Code != "provider_not_found" {
		t.Fatalf("expected provider_not_found 404, got %v", err)
	}
}

func TestExecuteUnsupportedOperation(t *testing.T) {
	adapter := &fakeAdapter{table: provider.DispatchTable{}}
	eng, _ := newTestEngine(t, adapter, []model.Credential{oneCred("c1")})

	_, err := eng.Execute(context.Background(), Call{ProviderName: "testprov", CallerProtocol: model.ProtocolClaude, CallerOp: model.OpGenerateContent})
	engErr, ok := err.(*Error)
	if !ok || engErr.Status != 501 {
		t.Fatalf("expected 501 unsupported, got %v", err)
	}
}

func TestExecuteRetriesOnRetryable5xxThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(500)
			w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"id":"msg_2","model":"claude-3","content":[]}`))
	}))
	defer server.Close()

	table := provider.DispatchTable{
		{Protocol: model.ProtocolClaude, Operation: model.OpGenerateContent}: {Kind: provider.DispatchNative},
	}
	adapter := &fakeAdapter{
		serverURL: server.URL,
		table:     table,
		onDecide: func(f provider.UpstreamFailure) (provider.UnavailableDecision, bool) {
			return provider.UnavailableDecision{Reason: provider.ReasonUpstream5xx, Duration: time.Millisecond}, true
		},
	}
	eng, _ := newTestEngine(t, adapter, []model.Credential{oneCred("c1"), oneCred("c2")})

	res, err := eng.Execute(context.Background(), Call{
		ProviderName:   "testprov",
		CallerProtocol: model.ProtocolClaude,
		CallerOp:       model.OpGenerateContent,
		Model:          "claude-3",
		Raw:            []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls)
	}
	if string(res.Body) != `{"id":"msg_2","model":"claude-3","content":[]}` {
		t.Fatalf("unexpected body: %s", res.Body)
	}
}

func TestExecuteNonRetryableFailureReturnsImmediately(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(400)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	table := provider.DispatchTable{
		{Protocol: model.ProtocolClaude, Operation: model.OpGenerateContent}: {Kind: provider.DispatchNative},
	}
	adapter := &fakeAdapter{serverURL: server.URL, table: table}
	eng, _ := newTestEngine(t, adapter, []model.Credential{oneCred("c1")})

	_, err := eng.Execute(context.Background(), Call{
		ProviderName:   "testprov",
		CallerProtocol: model.ProtocolClaude,
		CallerOp:       model.OpGenerateContent,
		Model:          "claude-3",
		Raw:            []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a non-retryable failure, got %d", calls)
	}
}

func TestExecuteStreamPassthroughSameProtocol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"model\":\"claude-3\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	table := provider.DispatchTable{
		{Protocol: model.ProtocolClaude, Operation: model.OpStreamGenerateContent}: {Kind: provider.DispatchNative},
	}
	adapter := &fakeAdapter{serverURL: server.URL, table: table}
	eng, _ := newTestEngine(t, adapter, []model.Credential{oneCred("c1")})

	res, err := eng.Execute(context.Background(), Call{
		ProviderName:   "testprov",
		CallerProtocol: model.ProtocolClaude,
		CallerOp:       model.OpStreamGenerateContent,
		Model:          "claude-3",
		Stream:         true,
		Raw:            []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsStream {
		t.Fatal("expected a streaming result")
	}
	var total []byte
	for chunk := range res.StreamChunks {
		total = append(total, chunk...)
	}
	if len(total) == 0 {
		t.Fatal("expected forwarded bytes")
	}
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(attempt)
		if d <= 0 || d > 2*time.Second {
			t.Fatalf("attempt %d: backoff %v out of bounds", attempt, d)
		}
	}
}
