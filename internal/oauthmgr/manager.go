// Package oauthmgr implements the OAuth Token Manager (C2): it loads and
// saves OAuth token files, refreshes proactively before expiry, and
// schedules future refreshes. Generalized from the teacher's Google-only
// internal/oauth.Manager and the refresh bookkeeping in
// internal/credential/manager_refresh.go to an arbitrary tokenUrl/clientId
// per authId.
package oauthmgr

import (
	"context"
	"sync"
	"time"

	apperrors "routecodex/internal/errors"
	mon "routecodex/internal/monitoring"
)

// refreshAhead is the proactive-refresh window from spec §3/§4.2.
const refreshAhead = 5 * time.Minute

// Config is the OAuth auth block materialised from a ProviderProfile
// (spec §3 Auth.OAuth).
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	TokenFile    string
}

// Token is the persisted OAuth token shape (spec §3 OAuthToken).
type Token struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Scope        string   `json:"scope,omitempty"`
	CreatedAt    int64    `json:"created_at"`
	Scopes       []string `json:"-"`
}

// ExpiresAt returns the absolute expiry per the spec invariant
// created_at + expires_in*1000 = absolute expiry (stored here in seconds).
func (t Token) ExpiresAt() time.Time {
	return time.Unix(t.CreatedAt, 0).Add(time.Duration(t.ExpiresIn) * time.Second)
}

type entry struct {
	authID string
	cfg    Config
	token  Token

	refreshing chan struct{} // non-nil while a refresh is in flight
	timer      *time.Timer
}

// Refresher performs the token-endpoint POST (spec §4.2.1). Split out so
// it can be swapped in tests; the production implementation is
// httpRefresher below.
type Refresher interface {
	Refresh(ctx context.Context, cfg Config, refreshToken string) (Token, error)
}

// Store persists and loads token files, atomically.
type Store interface {
	Load(path string) (Token, error)
	Save(path string, tok Token) error
}

// Manager is the OAuth Token Manager (C2).
type Manager struct {
	mu        sync.Mutex
	entries   map[string]*entry
	refresher Refresher
	store     Store
	onRefresh func(authID string)
	now       func() time.Time
}

// New builds a Manager. onRefresh, if non-nil, is invoked after every
// successful refresh so callers can invalidate derived caches.
func New(refresher Refresher, store Store, onRefresh func(authID string)) *Manager {
	if onRefresh == nil {
		onRefresh = func(string) {}
	}
	return &Manager{
		entries:   make(map[string]*entry),
		refresher: refresher,
		store:     store,
		onRefresh: onRefresh,
		now:       time.Now,
	}
}

// Register loads an authId's token file (if present) and schedules its
// first refresh. Safe to call again to update the config (e.g. config
// reload); it preserves any cached token already in memory.
func (m *Manager) Register(authID string, cfg Config) error {
	m.mu.Lock()
	e, exists := m.entries[authID]
	if !exists {
		e = &entry{authID: authID}
		m.entries[authID] = e
	}
	e.cfg = cfg
	m.mu.Unlock()

	if tok, err := m.store.Load(cfg.TokenFile); err == nil {
		m.mu.Lock()
		e.token = tok
		m.mu.Unlock()
	}
	m.scheduleNext(authID)
	return nil
}

// ResolveToken implements spec §4.2's resolveToken(authId) state machine.
func (m *Manager) ResolveToken(ctx context.Context, authID string) (string, error) {
	m.mu.Lock()
	e, ok := m.entries[authID]
	m.mu.Unlock()
	if !ok {
		return "", apperrors.NewKind(apperrors.KindOAuthExpiredNoRefr, 401, "unknown oauth authId: "+authID)
	}

	m.mu.Lock()
	tok := e.token
	cfg := e.cfg
	m.mu.Unlock()

	if tok.AccessToken != "" && time.Until(tok.ExpiresAt()) > refreshAhead {
		return tok.AccessToken, nil
	}

	if tok.RefreshToken != "" {
		refreshed, err := m.refreshSingleflight(ctx, authID, cfg, tok.RefreshToken)
		if err != nil {
			if tok.AccessToken != "" && time.Until(tok.ExpiresAt()) > 0 {
				return tok.AccessToken, nil // stale-but-valid fallback, with a warning at the call site
			}
			return "", err
		}
		return refreshed.AccessToken, nil
	}

	if tok.AccessToken != "" && time.Until(tok.ExpiresAt()) > 0 {
		return tok.AccessToken, nil
	}

	return "", apperrors.NewKind(apperrors.KindOAuthExpiredNoRefr, 401, "oauth token expired with no refresh token for authId: "+authID)
}

// refreshSingleflight guarantees at-most-one concurrent refresh per authId
// (spec invariant §8.3): a second concurrent caller observes the refreshed
// token via the cache rather than issuing its own HTTP call.
func (m *Manager) refreshSingleflight(ctx context.Context, authID string, cfg Config, refreshToken string) (Token, error) {
	m.mu.Lock()
	e := m.entries[authID]
	if e.refreshing != nil {
		wait := e.refreshing
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
		m.mu.Lock()
		tok := e.token
		m.mu.Unlock()
		if tok.AccessToken == "" {
			return Token{}, apperrors.NewKind(apperrors.KindOAuthRefreshFailed, 401, "concurrent refresh did not yield a token for "+authID)
		}
		return tok, nil
	}
	done := make(chan struct{})
	e.refreshing = done
	m.mu.Unlock()

	tok, err := m.doRefresh(ctx, authID, cfg, refreshToken)

	m.mu.Lock()
	e.refreshing = nil
	close(done)
	m.mu.Unlock()

	return tok, err
}

func (m *Manager) doRefresh(ctx context.Context, authID string, cfg Config, refreshToken string) (Token, error) {
	tok, err := m.refresher.Refresh(ctx, cfg, refreshToken)
	if err != nil {
		mon.OAuthRefreshTotal.WithLabelValues(authID, "failure").Inc()
		return Token{}, &apperrors.APIError{Kind: "OAUTH_REFRESH_FAILED", HTTPStatus: 401, Code: "OAUTH_REFRESH_FAILED", Type: "authentication_error", Message: err.Error()}
	}
	mon.OAuthRefreshTotal.WithLabelValues(authID, "success").Inc()
	tok.CreatedAt = m.now().Unix()
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	if err := m.store.Save(cfg.TokenFile, tok); err != nil {
		// Persisted-state failure does not invalidate the in-memory token;
		// callers still get the freshly refreshed access token.
		_ = err
	}

	m.mu.Lock()
	m.entries[authID].token = tok
	m.mu.Unlock()

	m.onRefresh(authID)
	m.scheduleNext(authID)
	return tok, nil
}

// scheduleNext arms the proactive-refresh timer at expiry-minus-5min.
func (m *Manager) scheduleNext(authID string) {
	m.mu.Lock()
	e, ok := m.entries[authID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	tok := e.token
	cfg := e.cfg
	m.mu.Unlock()

	if tok.RefreshToken == "" || tok.AccessToken == "" {
		return
	}
	delay := time.Until(tok.ExpiresAt().Add(-refreshAhead))
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = m.refreshSingleflight(ctx, authID, cfg, tok.RefreshToken)
	})
	m.mu.Lock()
	if e2, ok := m.entries[authID]; ok {
		e2.timer = timer
	}
	m.mu.Unlock()
}

// StopAll cancels every pending refresh timer (used on shutdown / reload).
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}
