package provider

import (
	"context"
	"fmt"

	"github.com/dfft546/gproxy/internal/model"
	"golang.org/x/oauth2/google"
)

// VertexAdapter speaks Gemini natively against Vertex AI, authenticating
// with a service-account JSON key rather than an API key or user OAuth
// token. Grounded on crates/gproxy-provider-impl/src/provider/vertex/mod.rs
// from original_source/ for the URL shape (region + project in the host),
// translated into golang.org/x/oauth2/google's JWT config flow.
type VertexAdapter struct{ base }

// NewVertexAdapter constructs the adapter.
func NewVertexAdapter() *VertexAdapter { return &VertexAdapter{} }

func (a *VertexAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	return nativeDispatchTable(model.ProtocolGemini, model.ProtocolGemini)
}

func (a *VertexAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	region, _ := cfg.Config["region"].(string)
	if region == "" {
		region = "us-central1"
	}
	host := fmt.Sprintf("https://%s-aiplatform.googleapis.com", region)
	action := "generateContent"
	if req.Stream {
		action = "streamGenerateContent"
	}
	if req.Operation == model.OpCountTokens {
		action = "countTokens"
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		host, cred.Secret.ProjectID, region, req.Model, action)
	token, err := a.accessToken(ctx, cred)
	if err != nil {
		return UpstreamHttpRequest{}, err
	}
	return UpstreamHttpRequest{
		Method:   "POST",
		URL:      url,
		Headers:  []HeaderKV{header("Authorization", "Bearer "+token), header("Content-Type", "application/json")},
		Body:     req.Raw,
		IsStream: req.Stream,
	}, nil
}

// accessToken exchanges the service-account key for a short-lived bearer
// token. Vertex credentials refresh on every send rather than via
// UpgradeCredential because the service-account token is never persisted
// back to the credential record (it is derived, not stored state).
func (a *VertexAdapter) accessToken(ctx context.Context, cred model.Credential) (string, error) {
	if len(cred.Secret.ServiceAccount) == 0 {
		return "", fmt.Errorf("vertex: missing service account key")
	}
	jwtCfg, err := google.JWTConfigFromJSON(cred.Secret.ServiceAccount, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return "", fmt.Errorf("vertex: parse service account: %w", err)
	}
	tok, err := jwtCfg.TokenSource(ctx).Token()
	if err != nil {
		return "", fmt.Errorf("vertex: token: %w", err)
	}
	return tok.AccessToken, nil
}
