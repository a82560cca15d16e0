// Package quota implements the Quota store half of C5: per-providerKey
// running counters consulted (read-only) and updated by the Request
// Executor, generalizing the scoring/auto-ban machinery of the teacher's
// internal/credential.Credential from a per-credential to a per-providerKey
// model.
package quota

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DisableMode is the kind of suspension applied to a providerKey.
type DisableMode string

const (
	ModeCooldown  DisableMode = "cooldown"
	ModeBlacklist DisableMode = "blacklist"
)

// Static is registered once at runtime construction (spec §4.4) and never
// mutated by request traffic.
type Static struct {
	AuthType             string
	PriorityTier         string
	APIKeyDailyResetTime string
}

// View is a read-only snapshot handed to the router (spec §4.4).
type View struct {
	ProviderKey       string      `json:"provider_key"`
	RequestedTokens   int64       `json:"requested_tokens"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastResetAt       time.Time   `json:"last_reset_at"`
	DisabledMode      DisableMode `json:"disabled_mode,omitempty"`
	DisabledUntil     time.Time   `json:"disabled_until,omitempty"`
	Static            Static      `json:"static"`
}

// Available reports whether the router may still dispatch to this key.
func (v View) Available(now time.Time) bool {
	if v.DisabledMode == "" {
		return true
	}
	if v.DisabledMode == ModeBlacklist {
		return false
	}
	return now.After(v.DisabledUntil)
}

type entry struct {
	requestedTokens   int64
	consecutiveErrors int
	lastResetAt       time.Time
	disabledMode      DisableMode
	disabledUntil     time.Time
	static            Static
}

// Store is the Quota store (spec §4.4).
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New builds an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry), now: time.Now}
}

// Register records the static metadata for a providerKey at runtime
// construction time (idempotent).
func (s *Store) Register(providerKey string, static Static) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	e.static = static
}

func (s *Store) entryLocked(providerKey string) *entry {
	e, ok := s.entries[providerKey]
	if !ok {
		e = &entry{lastResetAt: s.now()}
		s.entries[providerKey] = e
	}
	return e
}

// RecordUsage accounts requested tokens ahead of a call.
func (s *Store) RecordUsage(providerKey string, requestedTokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	e.requestedTokens += requestedTokens
}

// RecordSuccess clears the consecutive-error streak.
func (s *Store) RecordSuccess(providerKey string, usedTokens int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	e.consecutiveErrors = 0
	if usedTokens > 0 {
		e.requestedTokens += usedTokens
	}
}

// ErrorEvent is a single provider-side failure fed into RecordError.
type ErrorEvent struct {
	StatusCode int
	Kind       string
}

// RecordError bumps the consecutive-error streak and, for sufficiently
// severe events, self-disables via the same thresholds as the teacher's
// auto-ban logic (spec §4.4 disable()).
func (s *Store) RecordError(providerKey string, ev ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	e.consecutiveErrors++

	switch {
	case ev.StatusCode == 429:
		s.disableLocked(e, ModeCooldown, 30*time.Minute)
	case ev.StatusCode == 403 || ev.StatusCode == 401:
		s.disableLocked(e, ModeCooldown, time.Hour)
	case ev.StatusCode >= 500 && ev.StatusCode < 600:
		s.disableLocked(e, ModeCooldown, 15*time.Minute)
	}
	if e.consecutiveErrors >= 8 {
		s.disableLocked(e, ModeCooldown, time.Hour)
	}
}

// Disable suspends a providerKey in the given mode for durationMs.
// ModeBlacklist is indefinite whatever the duration; a cooldown with a
// non-positive durationMs clears the deadline and leaves the key available.
func (s *Store) Disable(providerKey string, mode DisableMode, durationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	s.disableLocked(e, mode, time.Duration(durationMs)*time.Millisecond)
}

func (s *Store) disableLocked(e *entry, mode DisableMode, dur time.Duration) {
	e.disabledMode = mode
	if mode == ModeBlacklist || dur <= 0 {
		e.disabledUntil = time.Time{}
		return
	}
	until := s.now().Add(dur)
	if until.After(e.disabledUntil) {
		e.disabledUntil = until
	}
}

// Reenable clears a disable state early (e.g. admin override).
func (s *Store) Reenable(providerKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	e.disabledMode = ""
	e.disabledUntil = time.Time{}
}

// View returns a read-only snapshot for the router (spec §4.4).
func (s *Store) View(providerKey string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(providerKey)
	return View{
		ProviderKey:       providerKey,
		RequestedTokens:   e.requestedTokens,
		ConsecutiveErrors: e.consecutiveErrors,
		LastResetAt:       e.lastResetAt,
		DisabledMode:      e.disabledMode,
		DisabledUntil:     e.disabledUntil,
		Static:            e.static,
	}
}

// Snapshot returns every tracked providerKey's view, for persistence.
func (s *Store) Snapshot() map[string]View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]View, len(s.entries))
	for key := range s.entries {
		e := s.entries[key]
		out[key] = View{
			ProviderKey:       key,
			RequestedTokens:   e.requestedTokens,
			ConsecutiveErrors: e.consecutiveErrors,
			LastResetAt:       e.lastResetAt,
			DisabledMode:      e.disabledMode,
			DisabledUntil:     e.disabledUntil,
			Static:            e.static,
		}
	}
	return out
}

// SaveToFile persists the snapshot as best-effort JSON (spec §6 Persisted
// state: "quota/health snapshots under $SESSION_DIR/...").
func (s *Store) SaveToFile(path string) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromFile restores a previously saved snapshot (missing file is not
// an error — best-effort persistence).
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var views map[string]View
	if err := json.Unmarshal(data, &views); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, v := range views {
		s.entries[key] = &entry{
			requestedTokens:   v.RequestedTokens,
			consecutiveErrors: v.ConsecutiveErrors,
			lastResetAt:       v.LastResetAt,
			disabledMode:      v.DisabledMode,
			disabledUntil:     v.DisabledUntil,
			static:            v.Static,
		}
	}
	return nil
}
