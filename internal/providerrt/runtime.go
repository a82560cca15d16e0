package providerrt

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"routecodex/internal/oauthmgr"
)

// TokenResolver resolves the current OAuth access token for an authId,
// registering it first the first time it is seen. Satisfied by
// *oauthmgr.Manager.
type TokenResolver interface {
	Register(authID string, cfg oauthmgr.Config) error
	ResolveToken(ctx context.Context, authID string) (string, error)
}

// Handle is a live Provider Runtime (C3): ownership of one physical
// provider instance, composed by the Registry, shared by every providerKey
// mapped to the same runtimeKey.
type Handle struct {
	Profile ProviderRuntimeProfile

	client *http.Client
	pool   chan struct{} // connection-slot semaphore, size = MaxPool

	mu           sync.RWMutex
	providerKeys map[string]struct{}

	deps Deps
}

func newHandle(runtimeKey, providerKey string, profile ProviderProfile, deps Deps) (*Handle, error) {
	if err := validateProfile(profile); err != nil {
		return nil, err
	}

	timeout := profile.Transport.TimeoutMs
	if timeout <= 0 {
		timeout = int(DefaultTimeout / time.Millisecond)
	}
	maxPool := profile.Transport.MaxPool
	if maxPool <= 0 {
		maxPool = 64
	}

	rp := ProviderRuntimeProfile{
		RuntimeKey:           runtimeKey,
		ProviderKey:          providerKey,
		ProviderID:           profile.ID,
		ProviderType:         profile.Protocol,
		ProviderFamily:       normalizeFamily(profile.Protocol, profile.ProviderFamily),
		BaseURL:              strings.TrimRight(profile.Transport.BaseURL, "/"),
		Endpoint:             profile.Transport.Endpoint,
		Headers:              profile.Transport.Headers,
		CompatibilityProfile: profile.CompatibilityProfile,
		DefaultModel:         profile.DefaultModel,
		MaxRetries:           profile.Transport.MaxRetries,
		TimeoutMs:            timeout,
		MaxPool:              maxPool,
		AntiTruncation:       profile.AntiTruncation,
		authKind:             profile.Auth.Kind,
		apiKey:               profile.Auth.APIKey,
		oauthAuth:            profile.Auth.OAuth,
	}

	h := &Handle{
		Profile:      rp,
		client:       &http.Client{Timeout: time.Duration(timeout) * time.Millisecond},
		pool:         make(chan struct{}, maxPool),
		providerKeys: map[string]struct{}{providerKey: {}},
		deps:         deps,
	}

	if rp.authKind == AuthOAuth && rp.oauthAuth != nil && deps.OAuth != nil {
		cfg := oauthmgr.Config{
			ClientID:     rp.oauthAuth.ClientID,
			ClientSecret: rp.oauthAuth.ClientSecret,
			TokenURL:     rp.oauthAuth.TokenURL,
			Scopes:       rp.oauthAuth.Scopes,
			TokenFile:    rp.oauthAuth.TokenFile,
		}
		if err := deps.OAuth.Register(rp.RuntimeKey, cfg); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (h *Handle) addProviderKey(providerKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providerKeys[providerKey] = struct{}{}
}

// ProviderKeys lists every providerKey currently bound to this handle.
func (h *Handle) ProviderKeys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.providerKeys))
	for k := range h.providerKeys {
		out = append(out, k)
	}
	return out
}

// Client returns the HTTP client configured with this runtime's timeout.
func (h *Handle) Client() *http.Client { return h.client }

// Bearer resolves the live authentication value to attach to an outbound
// request (spec §3 Auth): either a materialised API key or the current
// OAuth access token.
func (h *Handle) Bearer(ctx context.Context) (string, error) {
	switch h.Profile.authKind {
	case AuthAPIKey:
		if h.Profile.apiKey == nil {
			return "", nil
		}
		if h.Profile.apiKey.Value != "" {
			return h.Profile.apiKey.Value, nil
		}
		if h.Profile.apiKey.SecretRef != "" && h.deps.Secrets != nil {
			return h.deps.Secrets.Resolve(h.Profile.apiKey.SecretRef)
		}
		return "", nil
	case AuthOAuth:
		if h.deps.OAuth == nil {
			return "", nil
		}
		return h.deps.OAuth.ResolveToken(ctx, h.Profile.RuntimeKey)
	default:
		return "", nil
	}
}

// Acquire blocks until a connection slot is free (spec §5 maxPoolSize),
// returning a release func. When ctx ends first it returns ctx.Err(); the
// executor reports any Acquire error as a retryable TIMEOUT (HTTP 504).
// There is no separate CONNECTION_TIMEOUT kind.
func (h *Handle) Acquire(ctx context.Context) (func(), error) {
	select {
	case h.pool <- struct{}{}:
		return func() { <-h.pool }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

func (h *Handle) dispose() {
	// Connections are closed by the transport's idle-connection reaper;
	// nothing else to tear down beyond releasing the pool slots.
}
