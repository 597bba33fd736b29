// Package memstore provides an in-process Store for tests and for running
// the gateway without Redis (store.backend = "memory"). Coordination then
// only covers instances sharing this process, which is fine for a
// single-node dev setup and useless for a fleet.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/store"
)

// Store keeps lists and string values in maps guarded by one mutex.
// TTLs are enforced lazily: expired keys are dropped when touched.
type Store struct {
	mu    sync.Mutex
	lists map[string][]string
	vals  map[string]string
	exp   map[string]time.Time
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates a Store using wall-clock time.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Store with an injected clock so tests can drive
// TTL expiry deterministically.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		lists: make(map[string][]string),
		vals:  make(map[string]string),
		exp:   make(map[string]time.Time),
		now:   now,
	}
}

// reap drops key if its TTL has passed. Caller holds s.mu.
func (s *Store) reap(key string) {
	if deadline, ok := s.exp[key]; ok && !s.now().Before(deadline) {
		delete(s.lists, key)
		delete(s.vals, key)
		delete(s.exp, key)
	}
}

func (s *Store) Append(ctx context.Context, listKey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(listKey)
	s.lists[listKey] = append(s.lists[listKey], value)
	return nil
}

func (s *Store) ReadLast(ctx context.Context, listKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(listKey)
	list := s.lists[listKey]
	if len(list) == 0 {
		return "", store.ErrMiss
	}
	return list[len(list)-1], nil
}

func (s *Store) ReadAll(ctx context.Context, listKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(listKey)
	return append([]string(nil), s.lists[listKey]...), nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.lists, key)
		delete(s.vals, key)
		delete(s.exp, key)
	}
	return nil
}

func (s *Store) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	_, hasList := s.lists[key]
	_, hasVal := s.vals[key]
	if hasList || hasVal {
		s.exp[key] = s.now().Add(ttl)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	if _, ok := s.vals[key]; ok {
		return false, nil
	}
	s.vals[key] = value
	s.exp[key] = s.now().Add(ttl)
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reap(key)
	val, ok := s.vals[key]
	if !ok {
		return "", store.ErrMiss
	}
	return val, nil
}

// Set stores a plain value without expiry. Used to seed stop flags in
// dev mode and in tests.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	delete(s.exp, key)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
