// Package virtualrouter defines the Virtual Router contract (C6) the
// Request Executor invokes, plus one concrete deterministic implementation
// grounded on the teacher's internal/upstream/strategy package: sticky
// session hits first, then a weighted power-of-two-choices pick over the
// remaining candidates, skipping anything excluded, cooled down, or
// disabled in Quota.
package virtualrouter

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	apperrors "routecodex/internal/errors"
	"routecodex/internal/health"
	"routecodex/internal/providerrt"
	"routecodex/internal/quota"
	"routecodex/internal/routingstate"
)

// Target names the concrete provider the router picked for one attempt
// (spec §3 RouterDecision.target).
type Target struct {
	ProviderKey          string
	ProviderType         providerrt.Protocol
	OutboundProfile      string
	RuntimeKey           string
	ProcessMode          string
	CompatibilityProfile string
	DefaultModel         string
}

// RoutingDecision carries the route-level bookkeeping surfaced for
// debugging/management endpoints (spec §3).
type RoutingDecision struct {
	RouteName string
	Pool      []string
}

// Decision is the RouterDecision shape from spec §3.
type Decision struct {
	ProviderPayload interface{}
	Target          Target
	RoutingDecision RoutingDecision
	ProcessMode     string
	Metadata        map[string]interface{}
}

// Input is what the executor hands the router on each attempt (spec §6:
// execute({endpoint, id, payload, metadata{excludedProviderKeys,…}})).
type Input struct {
	Endpoint string
	ID       string
	Payload  interface{}
	Metadata map[string]interface{}
	// RouteHint is a soft preference (spec §6: "router must treat routeHint
	// as a soft preference").
	RouteHint string
	// RouteKey identifies the sticky-session bucket (session id, or a
	// caller-header hash) — empty when no session is present.
	RouteKey string
}

// Router is the Virtual Router contract (C6). Implementations must honour
// excluded and be deterministic given identical inputs and state (spec §6).
type Router interface {
	Execute(ctx context.Context, input Input, excluded map[string]struct{}) (*Decision, error)
}

// Candidate is one routable provider entry, registered ahead of time
// (typically one per providerKey produced by config loading).
type Candidate struct {
	ProviderKey          string
	RuntimeKey           string
	ProviderType         providerrt.Protocol
	OutboundProfile      string
	CompatibilityProfile string
	DefaultModel         string
	// RouteName groups candidates that are interchangeable for a given
	// logical route (e.g. all providers serving "gpt-4o").
	RouteName string
}

// DefaultRouter is the in-process deterministic implementation.
type DefaultRouter struct {
	mu         sync.RWMutex
	candidates map[string][]Candidate // routeName -> pool

	quota   *quota.Store
	health  *health.Store
	routing *routingstate.Store

	rand *rand.Rand
}

// NewDefaultRouter builds a router consulting the given C5 stores.
func NewDefaultRouter(q *quota.Store, h *health.Store, rs *routingstate.Store) *DefaultRouter {
	return &DefaultRouter{
		candidates: make(map[string][]Candidate),
		quota:      q,
		health:     h,
		routing:    rs,
		rand:       rand.New(rand.NewSource(1)),
	}
}

// SetPool replaces the candidate pool for a routeName (config (re)load).
func (r *DefaultRouter) SetPool(routeName string, candidates []Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[routeName] = append([]Candidate(nil), candidates...)
}

func (r *DefaultRouter) poolFor(routeName string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Candidate(nil), r.candidates[routeName]...)
}

// routeNameFor resolves which pool an input targets: an explicit
// routeHint wins when it names a known pool, else the single pool
// registered (most deployments register one implicit default route per
// model); callers with several simultaneous routes should pass routeHint.
func (r *DefaultRouter) routeNameFor(input Input) string {
	if input.RouteHint != "" {
		r.mu.RLock()
		_, ok := r.candidates[input.RouteHint]
		r.mu.RUnlock()
		if ok {
			return input.RouteHint
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.candidates) == 1 {
		for name := range r.candidates {
			return name
		}
	}
	return "default"
}

// Execute implements Router (spec §4.5.1 decision = VirtualRouter.execute(...)).
func (r *DefaultRouter) Execute(ctx context.Context, input Input, excluded map[string]struct{}) (*Decision, error) {
	routeName := r.routeNameFor(input)
	pool := r.poolFor(routeName)
	if len(pool) == 0 {
		return nil, apperrors.NewKind(apperrors.KindNoProviderTarget, 503, fmt.Sprintf("no provider pool registered for route %q", routeName))
	}

	now := time.Now()
	available := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if _, ex := excluded[c.ProviderKey]; ex {
			continue
		}
		if r.quota != nil {
			v := r.quota.View(c.ProviderKey)
			if !v.Available(now) {
				continue
			}
		}
		available = append(available, c)
	}
	if len(available) == 0 {
		return nil, apperrors.NewKind(apperrors.KindNoProviderTarget, 503, fmt.Sprintf("provider pool exhausted for route %q", routeName))
	}

	var chosen Candidate
	if input.RouteKey != "" && r.routing != nil {
		if bound, ok := r.routing.Lookup(input.RouteKey); ok {
			for _, c := range available {
				if c.ProviderKey == bound {
					chosen = c
					break
				}
			}
		}
	}
	if chosen.ProviderKey == "" {
		chosen = r.pickWeighted(available, now)
	}
	if input.RouteKey != "" && r.routing != nil {
		r.routing.Bind(input.RouteKey, chosen.ProviderKey)
	}

	poolKeys := make([]string, 0, len(pool))
	for _, c := range pool {
		poolKeys = append(poolKeys, c.ProviderKey)
	}
	sort.Strings(poolKeys)

	return &Decision{
		ProviderPayload: input.Payload,
		Target: Target{
			ProviderKey:          chosen.ProviderKey,
			ProviderType:         chosen.ProviderType,
			OutboundProfile:      chosen.OutboundProfile,
			RuntimeKey:           chosen.RuntimeKey,
			CompatibilityProfile: chosen.CompatibilityProfile,
			DefaultModel:         chosen.DefaultModel,
		},
		RoutingDecision: RoutingDecision{RouteName: routeName, Pool: poolKeys},
		Metadata:        input.Metadata,
	}, nil
}

// pickWeighted runs power-of-two-choices over the health score, the same
// shape as the teacher's Strategy.Pick weighted branch.
func (r *DefaultRouter) pickWeighted(candidates []Candidate, now time.Time) Candidate {
	if len(candidates) == 1 {
		return candidates[0]
	}
	i1 := r.rand.Intn(len(candidates))
	i2 := (i1 + 1) % len(candidates)
	a, b := candidates[i1], candidates[i2]
	if r.score(a, now) >= r.score(b, now) {
		return a
	}
	return b
}

func (r *DefaultRouter) score(c Candidate, now time.Time) float64 {
	if r.health == nil {
		return 1
	}
	return r.health.View(c.ProviderKey).Score(now)
}
