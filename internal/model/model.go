// Package model defines the persisted data shapes the proxy core reads
// through the snapshot store (§3, §4.2): providers, credentials, disallow
// entries, users, user-keys, global config, and the traffic/usage records
// the engine emits for every upstream attempt.
package model

import "time"

// Protocol identifies one of the four downstream wire protocols, plus the
// OpenAI "basic ops" alias used for ModelList/ModelGet/CountTokens.
type Protocol string

const (
	ProtocolClaude         Protocol = "claude"
	ProtocolOpenAIChat     Protocol = "openai-chat"
	ProtocolOpenAIResponse Protocol = "openai-responses"
	ProtocolOpenAI         Protocol = "openai"
	ProtocolGemini         Protocol = "gemini"
)

// Operation identifies one downstream-facing action.
type Operation string

const (
	OpModelList               Operation = "ModelList"
	OpModelGet                Operation = "ModelGet"
	OpCountTokens             Operation = "CountTokens"
	OpGenerateContent         Operation = "GenerateContent"
	OpStreamGenerateContent   Operation = "StreamGenerateContent"
	OpResponseGet             Operation = "ResponseGet"
	OpResponseDelete          Operation = "ResponseDelete"
	OpResponseCancel          Operation = "ResponseCancel"
	OpResponseListInputItems  Operation = "ResponseListInputItems"
	OpResponseCompact         Operation = "ResponseCompact"
	OpMemoryTraceSummarize    Operation = "MemoryTraceSummarize"
	OpOAuthStart              Operation = "OAuthStart"
	OpOAuthCallback           Operation = "OAuthCallback"
	OpUpstreamUsage           Operation = "UpstreamUsage"
)

// IsGenerate reports whether op is one of the two generate operations,
// which is the only case the per-model pool scope and retryable-error
// cooldown logic in §4.5/§4.1 apply to.
func (op Operation) IsGenerate() bool {
	return op == OpGenerateContent || op == OpStreamGenerateContent
}

// ProviderVariant selects which builder set and URL base a provider
// configuration uses. One of {openai, anthropic, claudecode, gemini,
// geminicli, vertex, codex, antigravity}.
type ProviderVariant string

const (
	VariantOpenAI      ProviderVariant = "openai"
	VariantAnthropic   ProviderVariant = "anthropic"
	VariantClaudeCode  ProviderVariant = "claudecode"
	VariantGemini      ProviderVariant = "gemini"
	VariantGeminiCLI   ProviderVariant = "geminicli"
	VariantVertex      ProviderVariant = "vertex"
	VariantCodex       ProviderVariant = "codex"
	VariantAntigravity ProviderVariant = "antigravity"
)

// Provider is an admin-managed upstream target (§3 "Provider").
type Provider struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Variant   ProviderVariant `json:"variant"`
	URLBase   string          `json:"url_base,omitempty"`
	Config    map[string]any  `json:"config,omitempty"`
	Enabled   bool            `json:"enabled"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SecretKind tags the shape of a Credential's opaque secret value, matched
// against the owning provider's variant at admission time (§3).
type SecretKind string

const (
	SecretAPIKey         SecretKind = "api_key"
	SecretOAuthToken     SecretKind = "oauth_token"
	SecretServiceAccount SecretKind = "service_account"
)

// Secret is the tagged-variant credential material.
type Secret struct {
	Kind           SecretKind `json:"kind"`
	APIKey         string     `json:"api_key,omitempty"`
	AccessToken    string     `json:"access_token,omitempty"`
	RefreshToken   string     `json:"refresh_token,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at,omitempty"`
	ServiceAccount []byte     `json:"service_account,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
}

// MatchesVariant reports whether this secret kind is admissible for the
// given provider variant (§3: "a credential whose secret kind does not
// match its provider is rejected at admission").
func (s Secret) MatchesVariant(v ProviderVariant) bool {
	switch v {
	case VariantOpenAI, VariantAnthropic, VariantGemini:
		return s.Kind == SecretAPIKey
	case VariantClaudeCode, VariantGeminiCLI, VariantCodex, VariantAntigravity:
		return s.Kind == SecretOAuthToken
	case VariantVertex:
		return s.Kind == SecretServiceAccount
	default:
		return false
	}
}

// Credential is one pool-member credential (§3 "Credential").
type Credential struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"provider_id"`
	Name       string         `json:"name,omitempty"`
	Secret     Secret         `json:"secret"`
	Settings   map[string]any `json:"settings,omitempty"`
	Weight     int            `json:"weight"`
	Enabled    bool           `json:"enabled"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// DisallowScope is either every model ("") or one named model.
type DisallowScope struct {
	AllModels bool   `json:"all_models"`
	Model     string `json:"model,omitempty"`
}

// DisallowLevel is the severity of a pool disallow entry (§3).
type DisallowLevel string

const (
	LevelCooldown  DisallowLevel = "cooldown"
	LevelTransient DisallowLevel = "transient"
	LevelDead      DisallowLevel = "dead"
)

// DisallowEntry is one (credential, scope) unavailability record.
type DisallowEntry struct {
	CredentialID string        `json:"credential_id"`
	Scope        DisallowScope `json:"scope"`
	Level        DisallowLevel `json:"level"`
	Until        *time.Time    `json:"until,omitempty"`
	Reason       string        `json:"reason"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// User is a tenant account (§3 "User / user-key").
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// UserKey authenticates downstream callers.
type UserKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	KeyValue   string     `json:"key_value"`
	Label      string     `json:"label,omitempty"`
	Enabled    bool       `json:"enabled"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// GlobalConfig is the §3 "Global config" record.
type GlobalConfig struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	AdminKey              string `json:"admin_key"`
	OutboundProxyURL      string `json:"outbound_proxy_url,omitempty"`
	DSN                   string `json:"dsn"`
	EventRedactSensitive  bool   `json:"event_redact_sensitive"`
}

// UsageSummary is the union over provider-native token accountings (§3).
// Only the fields relevant to the originating provider are populated; the
// core never re-bases or converts between accounting schemes.
type UsageSummary struct {
	// Claude
	ClaudeInputTokens         int64 `json:"claude_input_tokens,omitempty"`
	ClaudeOutputTokens        int64 `json:"claude_output_tokens,omitempty"`
	ClaudeCacheCreationTokens int64 `json:"claude_cache_creation_tokens,omitempty"`
	ClaudeCacheReadTokens     int64 `json:"claude_cache_read_tokens,omitempty"`

	// Gemini
	GeminiPromptTokens     int64 `json:"gemini_prompt_tokens,omitempty"`
	GeminiCandidatesTokens int64 `json:"gemini_candidates_tokens,omitempty"`
	GeminiTotalTokens      int64 `json:"gemini_total_tokens,omitempty"`
	GeminiCachedTokens     int64 `json:"gemini_cached_tokens,omitempty"`

	// OpenAI Chat
	OpenAIChatPromptTokens     int64 `json:"openai_chat_prompt_tokens,omitempty"`
	OpenAIChatCompletionTokens int64 `json:"openai_chat_completion_tokens,omitempty"`
	OpenAIChatTotalTokens      int64 `json:"openai_chat_total_tokens,omitempty"`

	// OpenAI Responses
	OpenAIRespInputTokens     int64 `json:"openai_resp_input_tokens,omitempty"`
	OpenAIRespOutputTokens    int64 `json:"openai_resp_output_tokens,omitempty"`
	OpenAIRespTotalTokens     int64 `json:"openai_resp_total_tokens,omitempty"`
	OpenAIRespCachedTokens    int64 `json:"openai_resp_cached_tokens,omitempty"`
	OpenAIRespReasoningTokens int64 `json:"openai_resp_reasoning_tokens,omitempty"`
}

// UpstreamRecord is one fully-formed log entry for a single provider
// attempt (§3 "Upstream record").
type UpstreamRecord struct {
	TraceID      string            `json:"trace_id"`
	Timestamp    time.Time         `json:"timestamp"`
	UserID       string            `json:"user_id,omitempty"`
	UserKeyID    string            `json:"user_key_id,omitempty"`
	Provider     string            `json:"provider"`
	CredentialID string            `json:"credential_id"`
	Internal     bool              `json:"internal"`
	AttemptNo    int               `json:"attempt_no"`
	Operation    Operation         `json:"operation"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	Query        string            `json:"query,omitempty"`
	ReqHeaders   map[string]string `json:"req_headers,omitempty"`
	ReqBody      []byte            `json:"req_body,omitempty"`
	Status       int               `json:"status"`
	RespHeaders  map[string]string `json:"resp_headers,omitempty"`
	RespBody     []byte            `json:"resp_body,omitempty"`
	Usage        *UsageSummary     `json:"usage,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	TransportKind string           `json:"transport_kind,omitempty"`
}

// MaxLoggedBodyBytes is the §4.7 event-record body cap (50 MiB). The cap
// is enforced on the event record only; bytes forwarded to the downstream
// client are never truncated.
const MaxLoggedBodyBytes = 50 * 1024 * 1024

// CapBody truncates b to MaxLoggedBodyBytes for inclusion in an event
// record, leaving the original slice (used for the actual wire transfer)
// untouched.
func CapBody(b []byte) []byte {
	if len(b) <= MaxLoggedBodyBytes {
		return b
	}
	out := make([]byte, MaxLoggedBodyBytes)
	copy(out, b[:MaxLoggedBodyBytes])
	return out
}
