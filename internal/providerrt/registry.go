package providerrt

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	mon "routecodex/internal/monitoring"
)

// ProfileBinding is one row of the config-supplied provider map: a
// providerKey pointing at a runtimeKey-identified profile. Several bindings
// may share a runtimeKey (spec §3: "many providerKeys may share one
// runtimeKey").
type ProfileBinding struct {
	ProviderKey string
	RuntimeKey  string
	Profile     ProviderProfile
}

// Registry is the Provider Registry (C4): providerKey -> runtimeKey,
// runtimeKey -> Handle.
type Registry struct {
	mu                    sync.RWMutex
	handles               map[string]*Handle // runtimeKey -> Handle
	providerKeyToRuntime  map[string]string
	initErrors            map[string]error // providerKey -> init error, excluded from routing
	deps                  Deps
}

// Deps are the collaborators a Handle needs to resolve credentials.
type Deps struct {
	Secrets SecretResolver
	OAuth   TokenResolver
}

// SecretResolver resolves a literal/env/authfile reference to a bearer
// (satisfied by *secretref.Resolver).
type SecretResolver interface {
	Resolve(ref string) (string, error)
}

// NewRegistry builds an empty registry; call Initialize to populate it.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		handles:              make(map[string]*Handle),
		providerKeyToRuntime: make(map[string]string),
		initErrors:           make(map[string]error),
		deps:                 deps,
	}
}

// Initialize performs a full rebuild (spec §4.3 / §3 Ownership & lifecycle):
// old handles are discarded after the new map is built so callers see
// either the fully-old or fully-new registry, never a partial one.
func (r *Registry) Initialize(bindings []ProfileBinding) {
	newHandles := make(map[string]*Handle)
	newProviderKeyToRuntime := make(map[string]string)
	newErrors := make(map[string]error)

	for _, b := range bindings {
		runtimeKey := b.RuntimeKey
		if runtimeKey == "" {
			runtimeKey = b.ProviderKey
		}
		handle, ok := newHandles[runtimeKey]
		if !ok {
			h, err := newHandle(runtimeKey, b.ProviderKey, b.Profile, r.deps)
			if err != nil {
				newErrors[b.ProviderKey] = err
				log.WithError(err).WithField("providerKey", b.ProviderKey).
					Error("provider.runtime.init failed; excluding from routing")
				mon.ProviderInitErrorsTotal.WithLabelValues(b.ProviderKey).Inc()
				continue
			}
			newHandles[runtimeKey] = h
			handle = h
		}
		newProviderKeyToRuntime[b.ProviderKey] = runtimeKey
		handle.addProviderKey(b.ProviderKey)
	}

	r.mu.Lock()
	old := r.handles
	r.handles = newHandles
	r.providerKeyToRuntime = newProviderKeyToRuntime
	r.initErrors = newErrors
	r.mu.Unlock()

	for key, h := range old {
		if _, stillAlive := newHandles[key]; !stillAlive {
			h.dispose()
		}
	}
}

// Lookup resolves a providerKey to its live Handle. Returns false if the
// providerKey is unknown or failed initialisation.
func (r *Registry) Lookup(providerKey string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runtimeKey, ok := r.providerKeyToRuntime[providerKey]
	if !ok {
		return nil, false
	}
	h, ok := r.handles[runtimeKey]
	return h, ok
}

// InitError returns the recorded failure for a providerKey that could not
// be materialised, if any.
func (r *Registry) InitError(providerKey string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initErrors[providerKey]
}

// Dispose tears down every handle (idempotent, errors swallowed+logged).
func (r *Registry) Dispose() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.providerKeyToRuntime = make(map[string]string)
	r.mu.Unlock()
	for _, h := range handles {
		h.dispose()
	}
}

// ProviderKeys lists every providerKey currently registered, successfully
// initialised or not — used by the read-only management snapshot endpoints.
func (r *Registry) ProviderKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providerKeyToRuntime))
	for k := range r.providerKeyToRuntime {
		keys = append(keys, k)
	}
	for k := range r.initErrors {
		if _, ok := r.providerKeyToRuntime[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// ProviderKeysSharingRuntime lists every providerKey currently bound to the
// same physical runtime as providerKey (including itself); used by
// management endpoints to explain the many-to-one mapping.
func (r *Registry) ProviderKeysSharingRuntime(providerKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runtimeKey, ok := r.providerKeyToRuntime[providerKey]
	if !ok {
		return nil
	}
	h, ok := r.handles[runtimeKey]
	if !ok {
		return nil
	}
	return h.ProviderKeys()
}

func normalizeFamily(protocol Protocol, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	switch protocol {
	case ProtocolOpenAIChat, ProtocolOpenAIResponses:
		return "openai"
	case ProtocolAnthropicMsgs:
		return "anthropic"
	case ProtocolGeminiChat:
		return "gemini"
	default:
		return string(protocol)
	}
}

func validateProfile(p ProviderProfile) error {
	if p.ID == "" {
		return fmt.Errorf("provider profile missing id")
	}
	if p.Transport.BaseURL == "" {
		return fmt.Errorf("provider %s missing base url", p.ID)
	}
	return nil
}
