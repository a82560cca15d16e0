// Package providerrt implements the Provider Runtime (C3) and Provider
// Registry (C4): it materialises ProviderProfile configuration into live
// ProviderRuntimeProfile handles, resolving credentials via secretref/
// oauthmgr and grouping providerKeys that share one physical runtimeKey.
package providerrt

import "time"

// Protocol is the upstream wire protocol a provider speaks.
type Protocol string

const (
	ProtocolOpenAIChat      Protocol = "openai-chat"
	ProtocolOpenAIResponses Protocol = "openai-responses"
	ProtocolAnthropicMsgs   Protocol = "anthropic-messages"
	ProtocolGeminiChat      Protocol = "gemini-chat"
)

// Transport is the outbound HTTP shape for a provider (spec §3).
type Transport struct {
	BaseURL    string
	Endpoint   string
	Headers    map[string]string
	TimeoutMs  int
	MaxRetries int
	MaxPool    int
}

// AuthKind tags the Auth union.
type AuthKind string

const (
	AuthAPIKey AuthKind = "api_key"
	AuthOAuth  AuthKind = "oauth"
)

// APIKeyAuth is the literal/secret-ref bearer case (spec §3 Auth.APIKey).
type APIKeyAuth struct {
	Value     string // literal, mutually exclusive with SecretRef
	SecretRef string
	RawType   string // e.g. "iflow-cookie"
}

// OAuthAuth is the refreshable-token case (spec §3 Auth.OAuth).
type OAuthAuth struct {
	ClientID          string
	ClientSecret      string
	TokenURL          string
	DeviceCodeURL     string
	AuthorizationURL  string
	RefreshURL        string
	UserInfoURL       string
	Scopes            []string
	TokenFile         string
}

// Auth is the tagged credential union for a provider.
type Auth struct {
	Kind   AuthKind
	APIKey *APIKeyAuth
	OAuth  *OAuthAuth
}

// ProviderProfile is immutable, per-reload configuration (spec §3).
type ProviderProfile struct {
	ID                   string
	Protocol             Protocol
	Transport            Transport
	Auth                 Auth
	CompatibilityProfile string
	Metadata             map[string]any
	ModuleType           string
	// ProviderFamily names the vendor family when it differs from Protocol
	// (e.g. an Anthropic-family provider served over openai-chat).
	ProviderFamily string
	DefaultModel   string
	// AntiTruncation enables continuation re-invocation when a response
	// looks cut off mid-answer (spec's anti-truncation follow-up, carried
	// from the teacher's internal/streaming.WithAntiTruncation).
	AntiTruncation bool
}

// ProviderRuntimeProfile is the materialised, live view of a provider
// (spec §3). One exists per unique runtimeKey; many providerKeys may
// reference the same runtimeKey (e.g. per-model aliases).
type ProviderRuntimeProfile struct {
	RuntimeKey           string
	ProviderKey          string
	ProviderID           string
	ProviderType         Protocol
	ProviderFamily       string
	BaseURL              string
	Endpoint             string
	Headers              map[string]string
	OutboundProfile      string
	CompatibilityProfile string
	DefaultModel         string
	MaxRetries           int
	TimeoutMs            int
	MaxPool              int
	AntiTruncation       bool

	authKind  AuthKind
	apiKey    *APIKeyAuth
	oauthAuth *OAuthAuth
}

// DefaultTimeout is the spec §5 default per-call timeout.
const DefaultTimeout = 30 * time.Second
