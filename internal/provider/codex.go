package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/dfft546/gproxy/internal/model"
	"golang.org/x/oauth2"
)

// CodexAdapter speaks OpenAI-Responses natively, authenticated with the
// Codex CLI's OAuth token bundle. Grounded on internal/auth/codex/token.go
// and jwt_parser.go (the id-token-derived account id used in request
// headers).
type CodexAdapter struct {
	base
	oauthCfg oauth2.Config
}

// NewCodexAdapter constructs the adapter.
func NewCodexAdapter() *CodexAdapter {
	return &CodexAdapter{oauthCfg: oauth2.Config{
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://auth.openai.com/oauth/authorize",
			TokenURL: "https://auth.openai.com/oauth/token",
		},
		Scopes: []string{"openid", "profile", "email", "offline_access"},
	}}
}

func (a *CodexAdapter) DispatchTable(cfg model.Provider) DispatchTable {
	t := nativeDispatchTable(model.ProtocolOpenAI, model.ProtocolOpenAIResponse)
	return addResponsesStateOps(t, model.ProtocolOpenAIResponse)
}

func (a *CodexAdapter) BuildUpstream(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpRequest, error) {
	base := urlBase(cfg, "https://chatgpt.com/backend-api/codex")
	path := "/responses" + req.PathExtra
	method := "POST"
	if req.Operation == model.OpResponseGet || req.Operation == model.OpResponseListInputItems {
		method = "GET"
	} else if req.Operation == model.OpResponseDelete {
		method = "DELETE"
	}
	accountID, _ := cred.Settings["chatgpt_account_id"].(string)
	headers := []HeaderKV{
		header("Authorization", "Bearer "+cred.Secret.AccessToken),
		header("Content-Type", "application/json"),
	}
	if accountID != "" {
		headers = append(headers, header("chatgpt-account-id", accountID))
	}
	return UpstreamHttpRequest{Method: method, URL: base + path, Headers: headers, Body: req.Raw, IsStream: req.Stream}, nil
}

func (a *CodexAdapter) UpgradeCredential(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (model.Credential, bool, error) {
	if cred.Secret.RefreshToken == "" || time.Until(cred.Secret.ExpiresAt) > 2*time.Minute {
		return model.Credential{}, false, nil
	}
	tok, err := a.oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.Secret.RefreshToken}).Token()
	if err != nil {
		return model.Credential{}, false, fmt.Errorf("codex: refresh: %w", err)
	}
	updated := cred
	updated.Secret.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.Secret.RefreshToken = tok.RefreshToken
	}
	updated.Secret.ExpiresAt = tok.Expiry
	return updated, true, nil
}

func (a *CodexAdapter) OAuthStart(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, error) {
	url := a.oauthCfg.AuthCodeURL("state", oauth2.AccessTypeOffline)
	return UpstreamHttpResponse{Status: 302, Headers: []HeaderKV{header("Location", url)}}, nil
}

func (a *CodexAdapter) OAuthCallback(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, *model.Credential, error) {
	tok, err := a.oauthCfg.Exchange(ctx, req.Model)
	if err != nil {
		return UpstreamHttpResponse{}, nil, fmt.Errorf("codex: exchange: %w", err)
	}
	cred := &model.Credential{
		Secret: model.Secret{Kind: model.SecretOAuthToken, AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: tok.Expiry},
		Weight: 1, Enabled: true,
	}
	return UpstreamHttpResponse{Status: 200}, cred, nil
}
