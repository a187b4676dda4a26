package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"golang.org/x/oauth2"
)

// ClaudeCodeAdapter speaks Claude natively using an OAuth2 token bundle
// obtained via the Claude-Code CLI login flow. Grounded on
// internal/auth/claude/token.go (token refresh) and pkce.go (the
// OAuthStart consent URL building), generalized to the Adapter contract.
type ClaudeCodeAdapter struct {
	base
	oauthCfg oauth2.Config
}

// NewClaudeCodeAdapter constructs the adapter with the Claude-Code CLI's
// public OAuth client configuration.
func NewClaudeCodeAdapter() *ClaudeCodeAdapter {
	return &ClaudeCodeAdapter{oauthCfg: oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://claude.ai/oauth/authorize",
			TokenURL: "https://console.anthropic.com/v1/oauth/token",
		},
		Scopes: []string{"org:create_api_key", "user:profile", "user:inference"},
	}}
}

func (a *ClaudeCodeAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	return nativeDispatchTable(model.ProtocolClaude, model.ProtocolClaude)
}

func (a *ClaudeCodeAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://api.anthropic.com")
	path := "/v1/messages"
	if req.Operation == model.OpCountTokens {
		path = "/v1/messages/count_tokens"
	}
	return UpstreamHttpRequest{
		Method: "POST",
		URL:    base + path,
		Headers: []HeaderKV{
			header("Authorization", "Bearer "+cred.Secret.AccessToken),
			header("anthropic-version", "2023-06-01"),
			header("anthropic-beta", "oauth-2025-04-20"),
			header("Content-Type", "application/json"),
		},
		Body:     req.Raw,
		IsStream: req.Stream,
	}, nil
}

// UpgradeCredential refreshes an expired (or near-expiry) access token
// ahead of sending, per §4.3 item 4.
func (a *ClaudeCodeAdapter) UpgradeCredential(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (model.Credential, bool, error) {
	if cred.Secret.RefreshToken == "" {
		return model.Credential{}, false, nil
	}
	if time.Until(cred.Secret.ExpiresAt) > 2*time.Minute {
		return model.Credential{}, false, nil
	}
	tok, err := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Secret.RefreshToken}).Token()
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("claudecode: refresh: %w", err)
	}
	updated := cred
	updated.Secret.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.Secret.RefreshToken = tok.RefreshToken
	}
	updated.Secret.ExpiresAt = tok.Expiry
	return updated, true, nil
}

// OnAuthFailure attempts one refresh-and-retry on 401/403 even if the
// token looked unexpired (server-side revocation), per §4.3 item 5.
func (a *ClaudeCodeAdapter) OnAuthFailure(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, failure UpstreamFailure) AuthRetryAction {
	if cred.Secret.RefreshToken == "" {
		return AuthRetryAction{Kind: RetryNone}
	}
	tok, err := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Secret.RefreshToken}).Token()
	if err != nil {
		return AuthRetryAction{Kind: RetryNone}
	}
	updated := cred
	updated.Secret.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.Secret.RefreshToken = tok.RefreshToken
	}
	updated.Secret.ExpiresAt = tok.Expiry
	return AuthRetryAction{Kind: RetryUpdateCredential, NewCredential: &updated}
}

// OnUpstreamSuccess sets the ctx_1m_confirmed credential setting after a
// successful call, unless the credential passed in already carries it;
// the response itself is not inspected. This is the original_source-derived
// supplemented feature documented in DESIGN.md / SPEC_FULL.md.
func (a *ClaudeCodeAdapter) OnUpstreamSuccess(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, resp UpstreamHttpResponse) (model.Credential, bool) {
	if settingHasContext1MConfirmed(cred) {
		return model.Credential{}, false
	}
	updated := cred
	updated.Settings = cloneSettings(cred.Settings)
	updated.Settings["ctx_1m_confirmed"] = true
	return updated, true
}

func settingHasContext1MConfirmed(cred model.Credential) bool {
	if cred.Settings == nil {
		return false
	}
	v, _ := cred.Settings["ctx_1m_confirmed"].(bool)
	return v
}

func (a *ClaudeCodeAdapter) OAuthStart(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, error) {
	url := a.oauthCfg.AuthCodeURL("state", oauth2.AccessTypeOffline)
	return UpstreamHttpResponse{Status: 302, Headers: []HeaderKV{header("Location", url)}}, nil
}

func (a *ClaudeCodeAdapter) OAuthCallback(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, *model.Credential, error) {
	// The authorization code arrives as req.Model by convention in this
	// core (the engine copies the callback's "code" query param into that
	// field for provider-internal operations); real code exchange is performed
	// against a.oauthCfg.
	tok, err := a.oauthCfg.Exchange(ctx, req.Model)
	if err != nil {
		return UpstreamHttpResponse{}, nil, fmt.Errorf("claudecode: exchange: %w", err)
	}
	cred := &model.Credential{
		Secret: model.Secret{
			Kind:         model.SecretOAuthToken,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.Expiry,
		},
		Weight:  1,
		Enabled: true,
	}
	return UpstreamHttpResponse{Status: 200}, cred, nil
}
