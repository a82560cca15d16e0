// Package secretref turns a credential reference (literal, env var, or
// auth-file id) into a live bearer string for provider authentication.
package secretref

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	apperrors "routecodex/internal/errors"
)

const cacheTTL = 5 * time.Minute

var envNamePattern = regexp.MustCompile(`^\$?\{?([A-Z][A-Z0-9_]+)\}?$`)

// jsonFieldPriority is the order in which JSON auth files are probed for a
// bearer value (spec §4.1).
var jsonFieldPriority = []string{"token", "apiKey", "bearer_token", "accessToken", "access_token"}

// OAuthDelegate hands an access_token found in an auth file to the OAuth
// Token Manager (C2) instead of treating it as a static secret.
type OAuthDelegate func(authID string, rawToken json.RawMessage) (string, error)

// AuthFileReader abstracts the auth-mapping lookup: authfile-<id> -> path.
type AuthFileReader interface {
	ReadAuthFile(id string) ([]byte, error)
}

type cacheEntry struct {
	value   string
	expires time.Time
}

// Resolver implements the Secret Resolver (C1).
type Resolver struct {
	mu      sync.Mutex
	cache   map[string]cacheEntry
	files   AuthFileReader
	oauth   OAuthDelegate
	nowFunc func() time.Time
}

// New builds a Resolver. files and oauth may be nil if the deployment has
// no authfile-backed or OAuth-backed secrets configured.
func New(files AuthFileReader, oauth OAuthDelegate) *Resolver {
	return &Resolver{
		cache:   make(map[string]cacheEntry),
		files:   files,
		oauth:   oauth,
		nowFunc: time.Now,
	}
}

// Resolve turns ref into a live bearer string per spec §4.1.
func (r *Resolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", apperrors.NewKind(apperrors.KindSecretNotFound, 500, "empty secret reference")
	}

	if cached, ok := r.cachedValue(ref); ok {
		return cached, nil
	}

	value, err := r.resolveUncached(ref)
	if err != nil {
		return "", err
	}
	r.store(ref, value)
	return value, nil
}

func (r *Resolver) resolveUncached(ref string) (string, error) {
	switch {
	case envNamePattern.MatchString(ref):
		name := envNamePattern.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", apperrors.NewKind(apperrors.KindConfigMissingEnv, 500, "environment variable not set: "+name)
		}
		return v, nil
	case strings.HasPrefix(ref, "authfile-"):
		return r.resolveAuthFile(ref)
	default:
		return ref, nil
	}
}

func (r *Resolver) resolveAuthFile(ref string) (string, error) {
	if r.files == nil {
		return "", apperrors.NewKind(apperrors.KindSecretNotFound, 500, "no auth-file source configured for "+ref)
	}
	id := strings.TrimPrefix(ref, "authfile-")
	data, err := r.files.ReadAuthFile(id)
	if err != nil {
		return "", &apperrors.APIError{Kind: "SECRET_FILE_UNREADABLE", HTTPStatus: 500, Code: "SECRET_FILE_UNREADABLE", Type: "server_error", Message: err.Error()}
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		// Not JSON: treat as plaintext, trimmed.
		plain := strings.TrimSpace(string(data))
		if plain == "" {
			return "", &apperrors.APIError{Kind: "SECRET_NO_FIELD", HTTPStatus: 500, Code: "SECRET_NO_FIELD", Type: "server_error", Message: "auth file is empty: " + ref}
		}
		return plain, nil
	}

	if rawAccessToken, ok := parsed["access_token"]; ok && r.oauth != nil {
		return r.oauth(id, rawAccessToken)
	}

	for _, field := range jsonFieldPriority {
		raw, ok := parsed[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s, nil
		}
	}
	return "", &apperrors.APIError{Kind: "SECRET_NO_FIELD", HTTPStatus: 500, Code: "SECRET_NO_FIELD", Type: "server_error", Message: "no recognised bearer field in auth file: " + ref}
}

func (r *Resolver) cachedValue(ref string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[ref]
	if !ok {
		return "", false
	}
	if r.nowFunc().After(entry.expires) {
		delete(r.cache, ref)
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(ref, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[ref] = cacheEntry{value: value, expires: r.nowFunc().Add(cacheTTL)}
}

// ClearCache drops every cached resolution.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

// Invalidate drops the cached resolution for a single reference.
func (r *Resolver) Invalidate(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, ref)
}
