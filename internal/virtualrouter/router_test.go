package virtualrouter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"routecodex/internal/health"
	"routecodex/internal/providerrt"
	"routecodex/internal/quota"
	"routecodex/internal/routingstate"
)

func newTestRouter() (*DefaultRouter, *quota.Store) {
	q := quota.New()
	h := health.New()
	rs := routingstate.New()
	r := NewDefaultRouter(q, h, rs)
	r.SetPool("default", []Candidate{
		{ProviderKey: "p1", ProviderType: providerrt.ProtocolOpenAIChat, RouteName: "default"},
		{ProviderKey: "p2", ProviderType: providerrt.ProtocolOpenAIChat, RouteName: "default"},
	})
	q.Register("p1", quota.Static{})
	q.Register("p2", quota.Static{})
	return r, q
}

func TestExecutePicksAvailableCandidate(t *testing.T) {
	r, _ := newTestRouter()
	decision, err := r.Execute(context.Background(), Input{Endpoint: "/v1/chat/completions"}, nil)
	require.NoError(t, err)
	require.Contains(t, []string{"p1", "p2"}, decision.Target.ProviderKey)
}

func TestExecuteSkipsExcluded(t *testing.T) {
	r, _ := newTestRouter()
	excluded := map[string]struct{}{"p1": {}}
	decision, err := r.Execute(context.Background(), Input{}, excluded)
	require.NoError(t, err)
	require.Equal(t, "p2", decision.Target.ProviderKey)
}

func TestExecuteSkipsDisabledProvider(t *testing.T) {
	r, q := newTestRouter()
	q.RecordError("p1", quota.ErrorEvent{StatusCode: 429})

	for i := 0; i < 10; i++ {
		decision, err := r.Execute(context.Background(), Input{}, nil)
		require.NoError(t, err)
		require.Equal(t, "p2", decision.Target.ProviderKey)
	}
}

func TestExecuteErrorsWhenPoolExhausted(t *testing.T) {
	r, q := newTestRouter()
	q.RecordError("p1", quota.ErrorEvent{StatusCode: 429})
	q.RecordError("p2", quota.ErrorEvent{StatusCode: 429})

	_, err := r.Execute(context.Background(), Input{}, nil)
	require.Error(t, err)
}

func TestExecuteErrorsOnUnknownRoute(t *testing.T) {
	q := quota.New()
	h := health.New()
	rs := routingstate.New()
	r := NewDefaultRouter(q, h, rs)

	_, err := r.Execute(context.Background(), Input{RouteHint: "nonexistent"}, nil)
	require.Error(t, err)
}

func TestStickySessionReused(t *testing.T) {
	r, _ := newTestRouter()
	input := Input{RouteKey: "session-1"}

	first, err := r.Execute(context.Background(), input, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := r.Execute(context.Background(), input, nil)
		require.NoError(t, err)
		require.Equal(t, first.Target.ProviderKey, again.Target.ProviderKey)
	}
}
