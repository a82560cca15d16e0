package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"routecodex/internal/config"
	"routecodex/internal/providerrt"
	"routecodex/internal/virtualrouter"
)

func TestBuildWiresProvidersIntoRegistryAndRouter(t *testing.T) {
	gw := config.GatewayConfig{
		Port: "8090",
		Providers: []config.ProviderEntry{
			{
				ID:           "openai-primary",
				ProviderKey:  "openai-primary",
				RuntimeKey:   "openai-primary",
				Protocol:     string(providerrt.ProtocolOpenAIChat),
				RouteName:    "default",
				BaseURL:      "https://example.test",
				AuthKind:     "api_key",
				APIKeyValue:  "sk-test",
				PriorityTier: 1,
			},
			{
				ID:          "claude-secondary",
				ProviderKey: "claude-secondary",
				RuntimeKey:  "claude-secondary",
				Protocol:    string(providerrt.ProtocolAnthropicMsgs),
				RouteName:   "default",
				BaseURL:     "https://example.test",
				AuthKind:    "oauth",
			},
		},
	}

	eng, err := Build(gw, nil)
	require.NoError(t, err)
	require.NotNil(t, eng.Registry)
	require.NotNil(t, eng.Executor)

	_, ok := eng.Registry.Lookup("openai-primary")
	require.True(t, ok)
	_, ok = eng.Registry.Lookup("claude-secondary")
	require.True(t, ok)

	decision, err := eng.Router.Execute(context.Background(), virtualrouter.Input{Endpoint: "/v1/chat/completions"}, nil)
	require.NoError(t, err)
	require.Contains(t, []string{"openai-primary", "claude-secondary"}, decision.Target.ProviderKey)
}

func TestBuildDefaultsMissingProviderKeyToID(t *testing.T) {
	gw := config.GatewayConfig{
		Providers: []config.ProviderEntry{
			{ID: "solo", Protocol: string(providerrt.ProtocolOpenAIChat), AuthKind: "api_key", APIKeyValue: "sk-test"},
		},
	}

	eng, err := Build(gw, nil)
	require.NoError(t, err)

	_, ok := eng.Registry.Lookup("solo")
	require.True(t, ok)

	view := eng.Quota.View("solo")
	require.Equal(t, "solo", view.ProviderKey)
	require.Equal(t, "0", view.Static.PriorityTier)
}

func TestBuildSkipsPersistenceWithNoStateFileConfigured(t *testing.T) {
	gw := config.GatewayConfig{}
	eng, err := Build(gw, nil)
	require.NoError(t, err)

	stop := make(chan struct{})
	close(stop)
	eng.PersistPeriodically(0, stop)
}
