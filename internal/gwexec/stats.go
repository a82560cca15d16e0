package gwexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"routecodex/internal/stats"
)

// Usage is the token accounting extracted from a successful provider
// response, handed to recordCompletion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// CompletionEvent is one recordCompletion call (spec §4.5 invariant:
// "exactly one recordCompletion per recordRequestStart").
type CompletionEvent struct {
	StatsRequestID string
	ProviderKey    string
	Model          string
	Error          bool
	Usage          Usage
}

// StatsRecorder owns the exactly-once start/completion bookkeeping (spec
// §4.5 guarantee 1, §8 invariant 1).
type StatsRecorder interface {
	RecordRequestStart(requestID string)
	RecordCompletion(ctx context.Context, apiKeyLabel string, ev CompletionEvent)
}

type inFlight struct {
	startedAt time.Time
	completed bool
}

// InMemoryStats is the default StatsRecorder: it pairs each completion with
// its recorded start and forwards every completion (success or error) into the
// teacher's per-apiKey aggregate (internal/stats.UsageStats) when one is
// configured, the same aggregate the admin endpoints already read from.
type InMemoryStats struct {
	mu      sync.Mutex
	started map[string]*inFlight
	usage   *stats.UsageStats
}

// NewInMemoryStats builds a recorder. usage may be nil, in which case
// completions are tracked for the exactly-once invariant but not
// persisted to any aggregate.
func NewInMemoryStats(usage *stats.UsageStats) *InMemoryStats {
	return &InMemoryStats{started: make(map[string]*inFlight), usage: usage}
}

// RecordRequestStart implements StatsRecorder.
func (s *InMemoryStats) RecordRequestStart(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[requestID] = &inFlight{startedAt: time.Now()}
}

// RecordCompletion implements StatsRecorder. The executor calls it once per
// provider attempt, always with the client-facing statsRequestId. The first
// call clears the matching start entry; later calls for the same id find no
// start and log a warning. Every call is still forwarded to the usage
// aggregate, so each attempt is counted there.
func (s *InMemoryStats) RecordCompletion(ctx context.Context, apiKeyLabel string, ev CompletionEvent) {
	s.mu.Lock()
	entry, ok := s.started[ev.StatsRequestID]
	if ok {
		delete(s.started, ev.StatsRequestID)
	}
	s.mu.Unlock()
	if !ok {
		log.WithField("requestId", ev.StatsRequestID).Warn("gwexec: recordCompletion with no matching recordRequestStart")
	}

	if s.usage == nil {
		return
	}
	key := apiKeyLabel
	if key == "" {
		key = fmt.Sprintf("provider:%s", ev.ProviderKey)
	}
	if err := s.usage.RecordRequest(ctx, key, ev.Model, !ev.Error, ev.Usage.PromptTokens, ev.Usage.CompletionTokens); err != nil {
		log.WithError(err).Debug("gwexec: usage aggregate write failed")
	}
	_ = entry
}
