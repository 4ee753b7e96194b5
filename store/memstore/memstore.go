package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-sso-session/store"
)

var _ store.KeyValue = (*Store)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-memory KeyValue with per-entry expiry. It backs the login
// flow's short-lived callback entries and tests.
type Store struct {
	entries map[string]entry
	nowTime func() time.Time
	lock    sync.RWMutex
}

// Option defines a function type to modify the Store instance.
type Option func(*Store)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = nowFunc
	}
}

func New(options ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.lock.RLock()
	e, ok := s.entries[key]
	s.lock.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	now := s.nowTime()
	if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
		s.lock.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry with a live one.
		if cur, ok := s.entries[key]; ok && !cur.expiresAt.IsZero() && !cur.expiresAt.After(now) {
			delete(s.entries, key)
		}
		s.lock.Unlock()
		return nil, store.ErrNotFound
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.nowTime().Add(ttl)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.entries[key] = entry{value: stored, expiresAt: expiresAt}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.entries, key)
	return nil
}
