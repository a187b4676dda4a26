package model

import "testing"

func TestOperationIsGenerate(t *testing.T) {
	generate := []Operation{OpGenerateContent, OpStreamGenerateContent}
	for _, op := range generate {
		if !op.IsGenerate() {
			t.Errorf("%s.IsGenerate() = false, want true", op)
		}
	}

	others := []Operation{OpModelList, OpModelGet, OpCountTokens, OpResponseGet, OpResponseDelete,
		OpResponseCancel, OpResponseListInputItems, OpResponseCompact, OpOAuthStart, OpOAuthCallback, OpUpstreamUsage}
	for _, op := range others {
		if op.IsGenerate() {
			t.Errorf("%s.IsGenerate() = true, want false", op)
		}
	}
}

func TestSecretMatchesVariant(t *testing.T) {
	cases := []struct {
		kind    SecretKind
		variant ProviderVariant
		want    bool
	}{
		{SecretAPIKey, VariantOpenAI, true},
		{SecretAPIKey, VariantAnthropic, true},
		{SecretAPIKey, VariantGemini, true},
		{SecretOAuthToken, VariantClaudeCode, true},
		{SecretOAuthToken, VariantGeminiCLI, true},
		{SecretOAuthToken, VariantCodex, true},
		{SecretOAuthToken, VariantAntigravity, true},
		{SecretServiceAccount, VariantVertex, true},
		{SecretAPIKey, VariantClaudeCode, false},
		{SecretOAuthToken, VariantOpenAI, false},
		{SecretServiceAccount, VariantOpenAI, false},
	}
	for _, c := range cases {
		secret := Secret{Kind: c.kind}
		if got := secret.MatchesVariant(c.variant); got != c.want {
			t.Errorf("Secret{Kind:%s}.MatchesVariant(%s) = %v, want %v", c.kind, c.variant, got, c.want)
		}
	}
}

func TestCapBodyLeavesShortBodiesUntouched(t *testing.T) {
	b := []byte("hello world")
	if got := CapBody(b); string(got) != "hello world" {
		t.Fatalf("CapBody(short) = %q", got)
	}
}

func TestCapBodyTruncatesOversizedBodies(t *testing.T) {
	b := make([]byte, MaxLoggedBodyBytes+100)
	for i := range b {
		b[i] = 'x'
	}
	got := CapBody(b)
	if len(got) != MaxLoggedBodyBytes {
		t.Fatalf("len(CapBody(oversized)) = %d, want %d", len(got), MaxLoggedBodyBytes)
	}
}
