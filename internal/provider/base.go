package provider

import (
	"context"
	"fmt"

	"github.com/dfft546/gproxy/internal/model"
)

// base provides no-op defaults for every Adapter hook so concrete
// adapters only need to override what they actually do, matching the
// teacher's pattern of thin per-provider executors
// (internal/runtime/executor/*_executor.go) that mostly delegate to a
// shared client and only specialize a few methods.
type base struct{}

func (base) LocalResponse(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (UpstreamHttpResponse, bool) {
	return UpstreamHttpResponse{}, false
}

func (base) UpgradeCredential(ctx context.Context, cfg model.Provider, cred model.Credential, req Request) (model.Credential, bool, error) {
	return model.Credential{}, false, nil
}

func (base) OnAuthFailure(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, failure UpstreamFailure) AuthRetryAction {
	return AuthRetryAction{Kind: RetryNone}
}

func (base) OnUpstreamFailure(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, failure UpstreamFailure) AuthRetryAction {
	return AuthRetryAction{Kind: RetryNone}
}

func (base) OnUpstreamSuccess(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, resp UpstreamHttpResponse) (model.Credential, bool) {
	return model.Credential{}, false
}

// DecideUnavailable provides the common classification of a failure into
// a pool decision (§4.3 item 8), shared by every adapter: rate limit /
// auth / timeout / 5xx / unknown. Model-disallow is provider-specific
// (only the Gemini API-key adapter detects it from a structured error
// body) so adapters
// that need it override this method and fall back to base's classify via
// classifyCommon.
func (base) DecideUnavailable(ctx context.Context, cfg model.Provider, cred model.Credential, req Request, failure UpstreamFailure) (UnavailableDecision, bool) {
	return classifyCommon(failure)
}

func classifyCommon(failure UpstreamFailure) (UnavailableDecision, bool) {
	if failure.IsTransport() {
		switch failure.Kind {
		case TransportTimeout, TransportReadTimeout:
			return UnavailableDecision{Reason: ReasonTimeout, Duration: 0}, true
		case TransportConnect, TransportDNS, TransportTLS, TransportOther:
			return UnavailableDecision{Reason: ReasonUnknown, Duration: 0}, true
		}
		return UnavailableDecision{}, false
	}
	switch {
	case failure.Status == 429:
		return UnavailableDecision{Reason: ReasonRateLimit, Duration: 0}, true
	case failure.Status == 401 || failure.Status == 403:
		return UnavailableDecision{Reason: ReasonAuthInvalid, Duration: 0}, true
	case failure.Status >= 500:
		return UnavailableDecision{Reason: ReasonUpstream5xx, Duration: 0}, true
	case failure.Status >= 400:
		// A 4xx that isn't auth/rate-limit is most often the caller's
		// request being rejected (bad model name, malformed body); the
		// credential itself is not at fault.
		return UnavailableDecision{}, false
	}
	return UnavailableDecision{}, false
}

func (base) NormalizeNonStreamResponse(ctx context.Context, cfg model.Provider, cred model.Credential, providerProto model.Protocol, op model.Operation, req Request, body []byte) []byte {
	return body
}

func (base) OAuthStart(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, error) {
	return UpstreamHttpResponse{}, fmt.Errorf("provider: oauth not supported")
}

func (base) OAuthCallback(ctx context.Context, cfg model.Provider, req Request) (UpstreamHttpResponse, *model.Credential, error) {
	return UpstreamHttpResponse{}, nil, fmt.Errorf("provider: oauth not supported")
}

func header(k, v string) HeaderKV { return HeaderKV{Key: k, Value: v} }

func urlBase(cfg model.Provider, fallback string) string {
	if cfg.URLBase != "" {
		return cfg.URLBase
	}
	return fallback
}
