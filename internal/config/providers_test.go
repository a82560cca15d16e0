package config

import (
	"testing"
)

func TestLoadGatewayConfigDefaults(t *testing.T) {
	t.Setenv("ROUTECODEX_GATEWAY_PORT", "")
	t.Setenv("ROUTECODEX_PROVIDERS_JSON", "")

	gw := LoadGatewayConfig()
	if gw.Port != "8090" {
		t.Fatalf("expected default port 8090, got %s", gw.Port)
	}
	if len(gw.Providers) != 0 {
		t.Fatalf("expected no providers by default, got %d", len(gw.Providers))
	}
}

func TestLoadGatewayConfigParsesProvidersJSON(t *testing.T) {
	t.Setenv("ROUTECODEX_GATEWAY_PORT", "9100")
	t.Setenv("ROUTECODEX_PROVIDERS_JSON", `[
		{"id":"openai-primary","protocol":"openai_chat","baseUrl":"https://api.openai.com","authKind":"api_key","apiKeyValue":"sk-test"},
		{"id":"claude-oauth","protocol":"anthropic_messages","authKind":"oauth","oauthTokenUrl":"https://example.com/token"}
	]`)

	gw := LoadGatewayConfig()
	if gw.Port != "9100" {
		t.Fatalf("expected port 9100, got %s", gw.Port)
	}
	if len(gw.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(gw.Providers))
	}
	if gw.Providers[0].ID != "openai-primary" || gw.Providers[0].AuthKind != "api_key" {
		t.Fatalf("unexpected first provider: %+v", gw.Providers[0])
	}
	if gw.Providers[1].AuthKind != "oauth" {
		t.Fatalf("expected second provider to be oauth, got %s", gw.Providers[1].AuthKind)
	}
}

func TestLoadGatewayConfigIgnoresMalformedJSON(t *testing.T) {
	t.Setenv("ROUTECODEX_PROVIDERS_JSON", `not json`)

	gw := LoadGatewayConfig()
	if len(gw.Providers) != 0 {
		t.Fatalf("expected malformed JSON to be silently ignored, got %d providers", len(gw.Providers))
	}
}

func TestLoadGatewayConfigReadsStateFilePaths(t *testing.T) {
	t.Setenv("ROUTECODEX_ROUTING_STATE_FILE", "/tmp/routing.json")
	t.Setenv("ROUTECODEX_QUOTA_STATE_FILE", "/tmp/quota.json")

	gw := LoadGatewayConfig()
	if gw.RoutingStateFile != "/tmp/routing.json" {
		t.Fatalf("expected routing state file to be read, got %s", gw.RoutingStateFile)
	}
	if gw.QuotaStateFile != "/tmp/quota.json" {
		t.Fatalf("expected quota state file to be read, got %s", gw.QuotaStateFile)
	}
}
