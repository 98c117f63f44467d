/*
Package redis provides the redis-backed implementation of the session store.

PURPOSE:
  Implements ingest.SessionStore against a shared redis instance so chunks
  of one import can be processed by different worker invocations without
  losing accumulated state.

KEY LAYOUT (per import id):
  ingest:session:{id}:meta       hash: owner, profile, created_at, first_row
  ingest:session:{id}:errors     list, append-only, ordered
  ingest:session:{id}:warnings   list
  ingest:session:{id}:syserrors  list
  ingest:session:{id}:failures   list of JSON RowFailure
  ingest:session:{id}:counts     hash of named counters
  ingest:session:{id}:seen:{s}   set of composite keys per scope
  ingest:session:{id}:scopes     set of scopes (for Snapshot/Clear)
  ingest:session:{id}:summary    JSON Summary, shorter TTL

TTL:
  Every write refreshes the session TTL on all touched keys, so an
  abandoned import expires as a whole roughly one TTL after its last chunk.

SEE ALSO:
  - ingest/session.go: Interface contract
  - ingest/store/memory.go: In-memory equivalent for tests
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/ingest-engine/ingest"
)

const keyPrefix = "ingest:session:"

// Sessions implements ingest.SessionStore on redis.
type Sessions struct {
	client     *redis.Client
	ttl        time.Duration
	summaryTTL time.Duration
}

// New connects a session store to redis at addr.
func New(addr string, ttl, summaryTTL time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = ingest.DefaultSessionTTL
	}
	if summaryTTL <= 0 {
		summaryTTL = ingest.DefaultSummaryTTL
	}
	return &Sessions{
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		ttl:        ttl,
		summaryTTL: summaryTTL,
	}
}

// Ping verifies connectivity at startup.
func (s *Sessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Sessions) Close() error { return s.client.Close() }

func (s *Sessions) key(importID, suffix string) string {
	return keyPrefix + importID + ":" + suffix
}

func (s *Sessions) Init(ctx context.Context, importID, owner, profile string) error {
	meta := s.key(importID, "meta")
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, meta, map[string]any{
		"owner":      owner,
		"profile":    profile,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, meta, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Sessions) AppendErrors(ctx context.Context, importID string, msgs []string) error {
	return s.push(ctx, importID, "errors", msgs)
}

func (s *Sessions) AppendWarnings(ctx context.Context, importID string, msgs []string) error {
	return s.push(ctx, importID, "warnings", msgs)
}

func (s *Sessions) AppendSystemErrors(ctx context.Context, importID string, msgs []string) error {
	return s.push(ctx, importID, "syserrors", msgs)
}

func (s *Sessions) AddFailures(ctx context.Context, importID string, failures []ingest.RowFailure) error {
	if len(failures) == 0 {
		return nil
	}
	encoded := make([]any, 0, len(failures))
	for _, f := range failures {
		b, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode row failure: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	if err := s.require(ctx, importID); err != nil {
		return err
	}
	k := s.key(importID, "failures")
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, encoded...)
	pipe.Expire(ctx, k, s.ttl)
	s.touch(ctx, pipe, importID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Sessions) MarkSeen(ctx context.Context, importID, scope string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.require(ctx, importID); err != nil {
		return err
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	seenKey := s.key(importID, "seen:"+scope)
	scopesKey := s.key(importID, "scopes")
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, seenKey, members...)
	pipe.SAdd(ctx, scopesKey, scope)
	pipe.Expire(ctx, seenKey, s.ttl)
	pipe.Expire(ctx, scopesKey, s.ttl)
	s.touch(ctx, pipe, importID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Sessions) IsSeen(ctx context.Context, importID, scope, key string) (bool, error) {
	if err := s.require(ctx, importID); err != nil {
		return false, err
	}
	return s.client.SIsMember(ctx, s.key(importID, "seen:"+scope), key).Result()
}

func (s *Sessions) IncrementCount(ctx context.Context, importID, name string, delta int) error {
	if err := s.require(ctx, importID); err != nil {
		return err
	}
	k := s.key(importID, "counts")
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, k, name, int64(delta))
	pipe.Expire(ctx, k, s.ttl)
	s.touch(ctx, pipe, importID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Sessions) SetFirstRow(ctx context.Context, importID string, snap ingest.RowSnapshot) error {
	if err := s.require(ctx, importID); err != nil {
		return err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode first-row snapshot: %w", err)
	}
	// HSETNX keeps the first capture; later chunks are ignored.
	return s.client.HSetNX(ctx, s.key(importID, "meta"), "first_row", string(b)).Err()
}

func (s *Sessions) Snapshot(ctx context.Context, importID string) (*ingest.SessionState, error) {
	meta, err := s.client.HGetAll(ctx, s.key(importID, "meta")).Result()
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, ingest.ErrSessionNotFound
	}

	state := &ingest.SessionState{
		ImportID: importID,
		Owner:    meta["owner"],
		Profile:  meta["profile"],
		Counts:   make(map[string]int),
		Seen:     make(map[string][]string),
	}
	if raw := meta["created_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			state.CreatedAt = t
		}
	}
	if raw := meta["first_row"]; raw != "" {
		var snap ingest.RowSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			state.FirstRow = &snap
		}
	}

	if state.Errors, err = s.client.LRange(ctx, s.key(importID, "errors"), 0, -1).Result(); err != nil {
		return nil, err
	}
	if state.Warnings, err = s.client.LRange(ctx, s.key(importID, "warnings"), 0, -1).Result(); err != nil {
		return nil, err
	}
	if state.SystemErrors, err = s.client.LRange(ctx, s.key(importID, "syserrors"), 0, -1).Result(); err != nil {
		return nil, err
	}

	rawFailures, err := s.client.LRange(ctx, s.key(importID, "failures"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	for _, raw := range rawFailures {
		var f ingest.RowFailure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("decode row failure: %w", err)
		}
		state.Failures = append(state.Failures, f)
	}

	counts, err := s.client.HGetAll(ctx, s.key(importID, "counts")).Result()
	if err != nil {
		return nil, err
	}
	for name, v := range counts {
		var n int
		fmt.Sscanf(v, "%d", &n)
		state.Counts[name] = n
	}

	scopes, err := s.client.SMembers(ctx, s.key(importID, "scopes")).Result()
	if err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		members, err := s.client.SMembers(ctx, s.key(importID, "seen:"+scope)).Result()
		if err != nil {
			return nil, err
		}
		state.Seen[scope] = members
	}
	return state, nil
}

func (s *Sessions) SaveSummary(ctx context.Context, importID string, sum ingest.Summary) error {
	b, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return s.client.Set(ctx, s.key(importID, "summary"), string(b), s.summaryTTL).Err()
}

func (s *Sessions) LoadSummary(ctx context.Context, importID string) (*ingest.Summary, error) {
	raw, err := s.client.Get(ctx, s.key(importID, "summary")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ingest.ErrSummaryNotFound
	}
	if err != nil {
		return nil, err
	}
	var sum ingest.Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}

func (s *Sessions) Clear(ctx context.Context, importID string) error {
	scopes, err := s.client.SMembers(ctx, s.key(importID, "scopes")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := []string{
		s.key(importID, "meta"),
		s.key(importID, "errors"),
		s.key(importID, "warnings"),
		s.key(importID, "syserrors"),
		s.key(importID, "failures"),
		s.key(importID, "counts"),
		s.key(importID, "scopes"),
	}
	for _, scope := range scopes {
		keys = append(keys, s.key(importID, "seen:"+scope))
	}
	return s.client.Del(ctx, keys...).Err()
}

// push appends to one of the ordered message lists.
func (s *Sessions) push(ctx context.Context, importID, suffix string, msgs []string) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := s.require(ctx, importID); err != nil {
		return err
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		values[i] = m
	}
	k := s.key(importID, suffix)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, k, values...)
	pipe.Expire(ctx, k, s.ttl)
	s.touch(ctx, pipe, importID)
	_, err := pipe.Exec(ctx)
	return err
}

// require maps a missing meta hash to ErrSessionNotFound so expired imports
// fail loudly instead of accumulating orphan keys.
func (s *Sessions) require(ctx context.Context, importID string) error {
	n, err := s.client.Exists(ctx, s.key(importID, "meta")).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ingest.ErrSessionNotFound
	}
	return nil
}

// touch refreshes the session TTL on the meta key within a pipeline.
func (s *Sessions) touch(ctx context.Context, pipe redis.Pipeliner, importID string) {
	pipe.Expire(ctx, s.key(importID, "meta"), s.ttl)
}
