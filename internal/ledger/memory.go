package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps everything in a map. Data does not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     TTLPolicy
	clock   clock.Clock
}

// NewMemoryStore creates an empty store. A nil clock uses the wall clock.
func NewMemoryStore(ttl TTLPolicy, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		clock:   clk,
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (Txn, error) {
	return &memoryTxn{store: s, writes: newWriteSet()}, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) read(key Key) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key.name]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !s.clock.Now().Before(e.expires) {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

type memoryTxn struct {
	store    *MemoryStore
	writes   *writeSet
	finished bool
}

func (t *memoryTxn) Get(key Key) ([]byte, bool, error) {
	if t.finished {
		return nil, false, ErrTxnFinished
	}
	if v, ok := t.writes.get(key); ok {
		return append([]byte(nil), v...), true, nil
	}
	v, ok := t.store.read(key)
	return v, ok, nil
}

func (t *memoryTxn) Has(key Key) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

func (t *memoryTxn) Set(key Key, value []byte) error {
	if t.finished {
		return ErrTxnFinished
	}
	t.writes.put(key, value)
	return nil
}

func (t *memoryTxn) Commit() error {
	if t.finished {
		return ErrTxnFinished
	}
	t.finished = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, key := range t.writes.order {
		e := memEntry{value: t.writes.values[key.name]}
		if ttl := s.ttl.TTL(key, now); ttl > 0 {
			e.expires = now.Add(ttl)
		}
		s.entries[key.name] = e
	}
	return nil
}

func (t *memoryTxn) Rollback() error {
	t.finished = true
	return nil
}
