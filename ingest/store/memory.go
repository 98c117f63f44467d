// Package store provides SessionStore implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/ingest-engine/ingest"
)

// =============================================================================
// MEMORY SESSIONS - In-memory implementation (for testing/dev)
// =============================================================================

// MemorySessions keeps all session state in process memory with the same
// TTL semantics as the redis implementation: every write refreshes the
// session deadline, and expired sessions behave as if they never existed.
type MemorySessions struct {
	mu         sync.RWMutex
	ttl        time.Duration
	summaryTTL time.Duration
	sessions   map[string]*memorySession
	summaries  map[string]memorySummary

	// Now is the clock; override in tests to exercise expiry.
	Now func() time.Time
}

type memorySession struct {
	state    ingest.SessionState
	deadline time.Time
}

type memorySummary struct {
	summary  ingest.Summary
	deadline time.Time
}

func NewMemorySessions(ttl, summaryTTL time.Duration) *MemorySessions {
	if ttl <= 0 {
		ttl = ingest.DefaultSessionTTL
	}
	if summaryTTL <= 0 {
		summaryTTL = ingest.DefaultSummaryTTL
	}
	return &MemorySessions{
		ttl:        ttl,
		summaryTTL: summaryTTL,
		sessions:   make(map[string]*memorySession),
		summaries:  make(map[string]memorySummary),
		Now:        time.Now,
	}
}

func (m *MemorySessions) Init(_ context.Context, importID, owner, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.sessions[importID] = &memorySession{
		state: ingest.SessionState{
			ImportID:  importID,
			Owner:     owner,
			Profile:   profile,
			Counts:    make(map[string]int),
			Seen:      make(map[string][]string),
			CreatedAt: now,
		},
		deadline: now.Add(m.ttl),
	}
	return nil
}

func (m *MemorySessions) AppendErrors(_ context.Context, importID string, msgs []string) error {
	return m.update(importID, func(s *ingest.SessionState) {
		s.Errors = append(s.Errors, msgs...)
	})
}

func (m *MemorySessions) AppendWarnings(_ context.Context, importID string, msgs []string) error {
	return m.update(importID, func(s *ingest.SessionState) {
		s.Warnings = append(s.Warnings, msgs...)
	})
}

func (m *MemorySessions) AppendSystemErrors(_ context.Context, importID string, msgs []string) error {
	return m.update(importID, func(s *ingest.SessionState) {
		s.SystemErrors = append(s.SystemErrors, msgs...)
	})
}

func (m *MemorySessions) AddFailures(_ context.Context, importID string, failures []ingest.RowFailure) error {
	return m.update(importID, func(s *ingest.SessionState) {
		s.Failures = append(s.Failures, failures...)
	})
}

func (m *MemorySessions) MarkSeen(_ context.Context, importID, scope string, keys ...string) error {
	return m.update(importID, func(s *ingest.SessionState) {
		existing := make(map[string]bool, len(s.Seen[scope]))
		for _, k := range s.Seen[scope] {
			existing[k] = true
		}
		for _, k := range keys {
			if !existing[k] {
				s.Seen[scope] = append(s.Seen[scope], k)
				existing[k] = true
			}
		}
	})
}

func (m *MemorySessions) IsSeen(_ context.Context, importID, scope, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess := m.live(importID)
	if sess == nil {
		return false, ingest.ErrSessionNotFound
	}
	for _, k := range sess.state.Seen[scope] {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemorySessions) IncrementCount(_ context.Context, importID, name string, delta int) error {
	return m.update(importID, func(s *ingest.SessionState) {
		s.Counts[name] += delta
	})
}

func (m *MemorySessions) SetFirstRow(_ context.Context, importID string, snap ingest.RowSnapshot) error {
	return m.update(importID, func(s *ingest.SessionState) {
		if s.FirstRow == nil {
			s.FirstRow = &snap
		}
	})
}

func (m *MemorySessions) Snapshot(_ context.Context, importID string) (*ingest.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess := m.live(importID)
	if sess == nil {
		return nil, ingest.ErrSessionNotFound
	}
	// Deep-ish copy so callers can't mutate stored state.
	out := sess.state
	out.Errors = append([]string(nil), sess.state.Errors...)
	out.Warnings = append([]string(nil), sess.state.Warnings...)
	out.SystemErrors = append([]string(nil), sess.state.SystemErrors...)
	out.Failures = append([]ingest.RowFailure(nil), sess.state.Failures...)
	out.Counts = make(map[string]int, len(sess.state.Counts))
	for k, v := range sess.state.Counts {
		out.Counts[k] = v
	}
	out.Seen = make(map[string][]string, len(sess.state.Seen))
	for k, v := range sess.state.Seen {
		out.Seen[k] = append([]string(nil), v...)
	}
	return &out, nil
}

func (m *MemorySessions) SaveSummary(_ context.Context, importID string, s ingest.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[importID] = memorySummary{summary: s, deadline: m.Now().Add(m.summaryTTL)}
	return nil
}

func (m *MemorySessions) LoadSummary(_ context.Context, importID string) (*ingest.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, ok := m.summaries[importID]
	if !ok || m.Now().After(sum.deadline) {
		return nil, ingest.ErrSummaryNotFound
	}
	out := sum.summary
	return &out, nil
}

func (m *MemorySessions) Clear(_ context.Context, importID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, importID)
	return nil
}

// update applies fn under the write lock and refreshes the TTL deadline.
func (m *MemorySessions) update(importID string, fn func(*ingest.SessionState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.live(importID)
	if sess == nil {
		return ingest.ErrSessionNotFound
	}
	fn(&sess.state)
	sess.deadline = m.Now().Add(m.ttl)
	return nil
}

// live returns the session unless it expired. Callers hold at least a read
// lock; expired entries are left for the next write to overwrite.
func (m *MemorySessions) live(importID string) *memorySession {
	sess, ok := m.sessions[importID]
	if !ok || m.Now().After(sess.deadline) {
		return nil
	}
	return sess
}
