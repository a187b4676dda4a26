package provider

import (
	"context"
	"strings"

	"github.com/dfft546/gproxy/internal/model"
)

// AnthropicAdapter speaks Claude natively with a plain API-key credential
// (the "Anthropic" provider of the end-to-end scenario §8.1). Grounded on
// internal/auth/claude/anthropic_auth.go's header conventions (x-api-key,
// no Authorization bearer).
type AnthropicAdapter struct{ base }

// NewAnthropicAdapter constructs the adapter.
func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	return nativeDispatchTable(model.ProtocolClaude, model.ProtocolClaude)
}

func (a *AnthropicAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://api.anthropic.com")
	path := "/v1/messages"
	if req.Operation == model.OpCountTokens {
		path = "/v1/messages/count_tokens"
	} else if req.Operation == model.OpModelList {
		path = "/v1/models"
	} else if req.Operation == model.OpModelGet {
		path = "/v1/models/" + req.Model
	}
	headers := []HeaderKV{
		header("x-api-key", cred.Secret.APIKey),
		header("anthropic-version", "2023-06-01"),
		header("Content-Type", "application/json"),
	}
	if settingHasContext1M(cred) {
		headers = append(headers, header("anthropic-beta", "context-1m-2025-08-07"))
	}
	method := "POST"
	if req.Operation == model.OpModelList || req.Operation == model.OpModelGet {
		method = "GET"
	}
	return UpstreamHttpRequest{Method: method, URL: base + path, Headers: headers, Body: req.Raw, IsStream: req.Stream}, nil
}

// OnUpstreamFailure implements the "drop context-1m beta flag after 400"
// provider-specific retry named in spec §4.3 item 6's example.
func (a *AnthropicAdapter) OnUpstreamFailure(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, failure UpstreamFailure) AuthRetryAction {
	if !failure.IsTransport() && failure.Status == 400 && settingHasContext1M(cred) && strings.Contains(string(failure.Body), "context-1m") {
		updated := cred
		updated.Settings = cloneSettings(cred.Settings)
		delete(updated.Settings, "ctx_1m_beta")
		return AuthRetryAction{Kind: RetryUpdateCredential, NewCredential: &updated}
	}
	return AuthRetryAction{Kind: RetryNone}
}

func settingHasContext1M(cred model.Credential) bool {
	if cred.Settings == nil {
		return false
	}
	v, _ := cred.Settings["ctx_1m_beta"].(bool)
	return v
}

func cloneSettings(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
