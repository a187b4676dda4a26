package provider

import (
	"context"
	"strings"

	"github.com/dfft546/gproxy/internal/model"
)

// GeminiAdapter speaks Gemini natively with a plain API-key credential.
// Grounded on internal/client/gemini_client.go's key-in-query-or-header
// convention.
type GeminiAdapter struct{ base }

// NewGeminiAdapter constructs the adapter.
func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

func (a *GeminiAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	return nativeDispatchTable(model.ProtocolGemini, model.ProtocolGemini)
}

func (a *GeminiAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://generativelanguage.googleapis.com")
	action := "generateContent"
	if req.Stream {
		action = "streamGenerateContent"
	}
	switch req.Operation {
	case model.OpCountTokens:
		action = "countTokens"
	case model.OpModelList:
		return UpstreamHttpRequest{Method: "GET", URL: base + "/v1beta/models?key=" + cred.Secret.APIKey}, nil
	case model.OpModelGet:
		return UpstreamHttpRequest{Method: "GET", URL: base + "/v1beta/models/" + req.Model + "?key=" + cred.Secret.APIKey}, nil
	}
	url := base + "/v1beta/models/" + req.Model + ":" + action + "?key=" + cred.Secret.APIKey
	if req.Stream {
		url += "&alt=sse"
	}
	return UpstreamHttpRequest{
		Method:   "POST",
		URL:      url,
		Headers:  []HeaderKV{header("Content-Type", "application/json")},
		Body:     req.Raw,
		IsStream: req.Stream,
	}, nil
}

// DecideUnavailable additionally recognizes Gemini's structured
// model-not-allowed error shape, classifying it as ModelDisallow so the
// pool applies the per-model scope (§4.1 rationale) instead of a whole
// credential cooldown.
func (a *GeminiAdapter) DecideUnavailable(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, failure UpstreamFailure) (UnavailableDecision, bool) {
	body := string(failure.Body)
	if !failure.IsTransport() && failure.Status == 400 && (strings.Contains(body, "not found") || strings.Contains(body, "not supported for generateContent")) {
		return UnavailableDecision{Reason: ReasonModelDisallow, Duration: 0}, true
	}
	return classifyCommon(failure)
}
