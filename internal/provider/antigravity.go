package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"golang.org/x/oauth2"
)

// AntigravityAdapter speaks Gemini natively, authenticated via the
// Antigravity IDE's own OAuth token bundle (a separate Google OAuth
// client id/secret from Gemini-CLI's, but the same token-refresh shape).
// Named in spec §1's provider list but absent from the teacher repo and
// from original_source/; built fresh in the same idiom as
// GeminiCLIAdapter/CodexAdapter since the spec gives no more detail than
// "OAuth credential" for it.
type AntigravityAdapter struct {
	base
	oauthCfg oauth2.Config
}

// NewAntigravityAdapter constructs the adapter.
func NewAntigravityAdapter() *AntigravityAdapter {
	return &AntigravityAdapter{oauthCfg: oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
	}}
}

func (a *AntigravityAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	return nativeDispatchTable(model.ProtocolGemini, model.ProtocolGemini)
}

func (a *AntigravityAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://antigravity.googleapis.com")
	action := "generateContent"
	if req.Stream {
		action = "streamGenerateContent"
	}
	if req.Operation == model.OpCountTokens {
		action = "countTokens"
	}
	url := fmt.Sprintf("%s/v1internal/models/%s:%s", base, req.Model, action)
	return UpstreamHttpRequest{
		Method:   "POST",
		URL:      url,
		Headers:  []HeaderKV{header("Authorization", "Bearer "+cred.Secret.AccessToken), header("Content-Type", "application/json")},
		Body:     req.Raw,
		IsStream: req.Stream,
	}, nil
}

func (a *AntigravityAdapter) UpgradeCredential(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (model.Credential, bool, error) {
	if cred.Secret.RefreshToken == "" || time.Until(cred.Secret.ExpiresAt) > 2*time.Minute {
		return model.Credential{}, false, nil
	}
	tok, err := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Secret.RefreshToken}).Token()
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("antigravity: refresh: %w", err)
	}
	updated := cred
	updated.Secret.AccessToken = tok.AccessToken
	updated.Secret.ExpiresAt = tok.Expiry
	return updated, true, nil
}
