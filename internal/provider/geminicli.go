package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GeminiCLIAdapter speaks Gemini natively but authenticates with the
// Gemini-CLI's OAuth token bundle (a Google user account, not an API
// key), and every response is wrapped in {"response": ...} by the
// Code Assist backend (spec §4.3 item 9's own example). Grounded on
// internal/auth/codex/token.go's refresh-token-exchange shape, adapted to
// google.golang.org-style oauth2/google endpoints.
type GeminiCLIAdapter struct{ base }

// NewGeminiCLIAdapter constructs the adapter.
func NewGeminiCLIAdapter() *GeminiCLIAdapter { return &GeminiCLIAdapter{} }

func (a *GeminiCLIAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	return nativeDispatchTable(model.ProtocolGemini, model.ProtocolGemini)
}

func (a *GeminiCLIAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://cloudcode-pa.googleapis.com")
	action := ":generateContent"
	if req.Stream {
		action = ":streamGenerateContent"
	}
	if req.Operation == model.OpCountTokens {
		action = ":countTokens"
	}
	return UpstreamHttpRequest{
		Method: "POST",
		URL:    base + "/v1internal" + action,
		Headers: []HeaderKV{
			header("Authorization", "Bearer "+cred.Secret.AccessToken),
			header("Content-Type", "application/json"),
		},
		Body:     req.Raw,
		IsStream: req.Stream,
	}, nil
}

// NormalizeNonStreamResponse unwraps the {"response": ...} envelope the
// Code Assist backend wraps every response in (spec §4.3 item 9).
func (a *GeminiCLIAdapter) NormalizeNonStreamResponse(ctx context.Context, cfg model.Provider, cred model.Credential, providerProto model.Protocol, op model.Operation, req Request, body []byte) []byte {
	inner := gjson.GetBytes(body, "response")
	if inner.Exists() {
		return []byte(inner.Raw)
	}
	return body
}

func (a *GeminiCLIAdapter) UpgradeCredential(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (model.Credential, bool, error) {
	if cred.Secret.RefreshToken == "" || time.Until(cred.Secret.ExpiresAt) > 2*time.Minute {
		return model.Credential{}, false, nil
	}
	tok, err := googleOAuthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Secret.RefreshToken}).Token()
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("geminicli: refresh: %w", err)
	}
	updated := cred
	updated.Secret.AccessToken = tok.AccessToken
	updated.Secret.ExpiresAt = tok.Expiry
	return updated, true, nil
}

func googleOAuthConfig() *oauth2.Config {
	return &oauth2.Config{Endpoint: google.Endpoint, Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"}}
}

func (a *GeminiCLIAdapter) OAuthStart(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, error) {
	url := googleOAuthConfig().AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return UpstreamHttpResponse{Status: 302, Headers: []HeaderKV{header("Location", url)}}, nil
}

func (a *GeminiCLIAdapter) OAuthCallback(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, *model.Credential, error) {
	tok, err := googleOAuthConfig().Exchange(ctx, req.Model)
	if err != nil {
		return UpstreamHttpResponse{}, nil, fmt.Errorf("geminicli: exchange: %w", err)
	}
	cred := &model.Credential{
		Secret: model.Secret{Kind: model.SecretOAuthToken, AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: tok.Expiry},
		Weight: 1, Enabled: true,
	}
	return UpstreamHttpResponse{Status: 200}, cred, nil
}
