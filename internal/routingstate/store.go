// Package routingstate implements the Routing State store half of C5: a
// per-session sticky providerKey-per-route cache, generalizing
// internal/upstream/strategy/strategy_sticky.go's sticky map (keyed there
// by credential id) to an arbitrary route key (spec §4.4: "session id,
// or a hash of caller-identifying headers when no session id is present").
package routingstate

import (
	"sync"
	"time"

	mon "routecodex/internal/monitoring"
)

// DefaultTTL is the sticky-binding lifetime applied when a caller does not
// override it (spec §4.4 sticky session routing).
const DefaultTTL = 10 * time.Minute

type binding struct {
	providerKey string
	expiresAt   time.Time
}

// Store is the Routing State store (spec §4.4).
type Store struct {
	mu       sync.RWMutex
	bindings map[string]binding
	now      func() time.Time
}

// New builds an empty Store.
func New() *Store {
	return &Store{bindings: make(map[string]binding), now: time.Now}
}

// Lookup returns the providerKey currently sticky-bound to routeKey, if any
// and not expired.
func (s *Store) Lookup(routeKey string) (string, bool) {
	if routeKey == "" {
		return "", false
	}
	s.mu.RLock()
	b, ok := s.bindings[routeKey]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.now().After(b.expiresAt) {
		s.mu.Lock()
		delete(s.bindings, routeKey)
		sz := len(s.bindings)
		s.mu.Unlock()
		mon.RoutingStickySize.Set(float64(sz))
		return "", false
	}
	return b.providerKey, true
}

// Bind records a sticky providerKey for routeKey with the default TTL,
// refreshing the expiry if already present (spec §4.4: successful
// responses extend the binding).
func (s *Store) Bind(routeKey, providerKey string) {
	s.BindTTL(routeKey, providerKey, DefaultTTL)
}

// BindTTL is Bind with an explicit TTL.
func (s *Store) BindTTL(routeKey, providerKey string, ttl time.Duration) {
	if routeKey == "" || providerKey == "" {
		return
	}
	s.mu.Lock()
	s.bindings[routeKey] = binding{providerKey: providerKey, expiresAt: s.now().Add(ttl)}
	sz := len(s.bindings)
	s.mu.Unlock()
	mon.RoutingStickySize.Set(float64(sz))
}

// Clear removes a sticky binding, e.g. after a failover away from it.
func (s *Store) Clear(routeKey string) {
	s.mu.Lock()
	delete(s.bindings, routeKey)
	sz := len(s.bindings)
	s.mu.Unlock()
	mon.RoutingStickySize.Set(float64(sz))
}

// BindingInfo is one row of a read-only snapshot, used by management
// endpoints and by the shadow-compare overlay in ShadowCompare.
type BindingInfo struct {
	RouteKey    string    `json:"route_key"`
	ProviderKey string    `json:"provider_key"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Snapshot lists every live binding.
func (s *Store) Snapshot() []BindingInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]BindingInfo, 0, len(s.bindings))
	for k, b := range s.bindings {
		if now.After(b.expiresAt) {
			continue
		}
		out = append(out, BindingInfo{RouteKey: k, ProviderKey: b.providerKey, ExpiresAt: b.expiresAt})
	}
	return out
}

// ShadowResult records whether a router decision agreed with the sticky
// binding already on file for a route, without itself affecting routing
// (spec §4.4: "a read-only shadow-compare overlay logs agree/disagree
// against the live decision but never overrides it").
type ShadowResult struct {
	RouteKey    string
	Bound       string
	Decided     string
	Agreed      bool
	HadBinding  bool
}

// ShadowCompare compares a router's chosen providerKey against the
// existing sticky binding for routeKey, without mutating state.
func (s *Store) ShadowCompare(routeKey, decided string) ShadowResult {
	bound, ok := s.Lookup(routeKey)
	return ShadowResult{
		RouteKey:   routeKey,
		Bound:      bound,
		Decided:    decided,
		Agreed:     ok && bound == decided,
		HadBinding: ok,
	}
}
