package config

import (
	"encoding/json"
	"os"
	"strings"
)

// ProviderEntry is the on-disk/env-JSON shape of one provider profile
// (spec §3 ProviderProfile). GatewayConfig.Port is read alongside it from
// the same ROUTECODEX_ env-var family; the rest of Config reads its own
// unprefixed variables.
type ProviderEntry struct {
	ID                   string            `json:"id"`
	ProviderKey          string            `json:"providerKey"`
	RuntimeKey           string            `json:"runtimeKey"`
	Protocol             string            `json:"protocol"`
	ProviderFamily       string            `json:"providerFamily"`
	RouteName            string            `json:"routeName"`
	BaseURL              string            `json:"baseUrl"`
	Endpoint             string            `json:"endpoint"`
	Headers              map[string]string `json:"headers"`
	TimeoutMs            int               `json:"timeoutMs"`
	MaxRetries           int               `json:"maxRetries"`
	MaxPool              int               `json:"maxPool"`
	CompatibilityProfile string            `json:"compatibilityProfile"`
	DefaultModel         string            `json:"defaultModel"`
	PriorityTier         int               `json:"priorityTier"`
	AntiTruncation       bool              `json:"antiTruncation"`

	AuthKind      string   `json:"authKind"` // "api_key" | "oauth"
	APIKeyValue   string   `json:"apiKeyValue"`
	APIKeySecret  string   `json:"apiKeySecretRef"`
	APIKeyRawType string   `json:"apiKeyRawType"`
	OAuthClientID string   `json:"oauthClientId"`
	OAuthClientSec string  `json:"oauthClientSecret"`
	OAuthTokenURL string   `json:"oauthTokenUrl"`
	OAuthRefreshURL string `json:"oauthRefreshUrl"`
	OAuthScopes   []string `json:"oauthScopes"`
	OAuthTokenFile string  `json:"oauthTokenFile"`
}

// GatewayConfig holds the dispatch-engine (request gateway) settings that
// sit alongside the legacy single-upstream server config.
type GatewayConfig struct {
	Port          string
	Providers     []ProviderEntry
	RoutingStateFile string
	QuotaStateFile   string
}

// LoadGatewayConfig reads the gateway/provider configuration from the
// environment, mirroring the rest of this package's getenv-based loading.
// ROUTECODEX_PROVIDERS_JSON carries the provider list as a JSON array; this
// keeps the new multi-provider surface additive to the existing YAML/env
// Config without requiring a schema migration of the legacy file format.
func LoadGatewayConfig() GatewayConfig {
	gw := GatewayConfig{
		Port:             getenv("ROUTECODEX_GATEWAY_PORT", "8090"),
		RoutingStateFile: getenv("ROUTECODEX_ROUTING_STATE_FILE", ""),
		QuotaStateFile:   getenv("ROUTECODEX_QUOTA_STATE_FILE", ""),
	}
	raw := strings.TrimSpace(os.Getenv("ROUTECODEX_PROVIDERS_JSON"))
	if raw == "" {
		return gw
	}
	var entries []ProviderEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return gw
	}
	gw.Providers = entries
	return gw
}
