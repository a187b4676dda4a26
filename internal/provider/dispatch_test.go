package provider

import (
	"testing"

	"github.com/dfft546/gproxy/internal/model"
)

func TestNativeDispatchTableIdentityIsNative(t *testing.T) {
	table := nativeDispatchTable(model.ProtocolClaude, model.ProtocolClaude)
	rule := table[DispatchKey{model.ProtocolClaude, model.OpGenerateContent}]
	if rule.Kind != DispatchNative {
		t.Fatalf("expected native for identity protocol, got %v", rule.Kind)
	}
}

func TestNativeDispatchTableOtherIsTransform(t *testing.T) {
	table := nativeDispatchTable(model.ProtocolClaude, model.ProtocolClaude)
	rule := table[DispatchKey{model.ProtocolOpenAIChat, model.OpGenerateContent}]
	if rule.Kind != DispatchTransform || rule.Target != model.ProtocolClaude {
		t.Fatalf("expected transform to claude, got %+v", rule)
	}
}

func TestResolveModeDerivation(t *testing.T) {
	table := nativeDispatchTable(model.ProtocolClaude, model.ProtocolClaude)
	res := Resolve(table, model.ProtocolOpenAIChat, model.OpStreamGenerateContent, true, false)
	if res.Mode != ModeStreamToNon {
		t.Fatalf("expected StreamToNon, got %v", res.Mode)
	}
	res2 := Resolve(table, model.ProtocolClaude, model.OpGenerateContent, false, false)
	if res2.Mode != ModeSame {
		t.Fatalf("expected Same, got %v", res2.Mode)
	}
}

func TestUpstreamFailureRetryable(t *testing.T) {
	cases := []struct {
		f    UpstreamFailure
		want bool
	}{
		{UpstreamFailure{Kind: TransportTimeout}, true},
		{UpstreamFailure{Kind: TransportOther}, false},
		{UpstreamFailure{Status: 429}, true},
		{UpstreamFailure{Status: 500}, true},
		{UpstreamFailure{Status: 400}, false},
	}
	for _, c := range cases {
		if got := c.f.Retryable(); got != c.want {
			t.Errorf("Retryable(%+v) = %v, want %v", c.f, got, c.want)
		}
	}
}

func TestUnavailableReasonPerModelScope(t *testing.T) {
	if !ReasonRateLimit.PerModelScope() {
		t.Fatal("RateLimit should be per-model scope")
	}
	if ReasonUnknown.PerModelScope() {
		t.Fatal("Unknown should not be per-model scope")
	}
}
