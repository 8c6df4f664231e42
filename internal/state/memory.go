package state

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is the in-process Store. Entries live in a sync.Map keyed by
// the full namespaced key, so Update contends only on the key it touches.
type MemoryStore struct {
	entries sync.Map // map[string]*memEntry
}

type memEntry struct {
	value     []byte
	writtenAt time.Time
	ttl       time.Duration
}

func (e *memEntry) expired(now time.Time) bool {
	if e.ttl <= 0 {
		return false
	}
	return now.After(e.writtenAt.Add(e.ttl))
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(*memEntry)
	if entry.expired(time.Now()) {
		// Lazy prune. CompareAndDelete so a concurrent overwrite survives.
		m.entries.CompareAndDelete(key, v)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.entries.Store(key, &memEntry{
		value:     value,
		writtenAt: time.Now(),
		ttl:       ttl,
	})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error) {
	for i := 0; i < maxCASRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		old, loaded := m.entries.Load(key)
		var current []byte
		found := false
		if loaded {
			entry := old.(*memEntry)
			if !entry.expired(time.Now()) {
				current = entry.value
				found = true
			}
		}

		next, err := fn(current, found)
		if errors.Is(err, ErrSkipUpdate) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}

		newEntry := &memEntry{value: next, writtenAt: time.Now(), ttl: ttl}
		if !loaded {
			if _, raced := m.entries.LoadOrStore(key, newEntry); !raced {
				return next, nil
			}
			continue
		}
		if m.entries.CompareAndSwap(key, old, newEntry) {
			return next, nil
		}
	}
	return nil, ErrTooMuchContention
}

// snapshot returns all live entries. Used by the file store to persist.
func (m *MemoryStore) snapshot(now time.Time) map[string]Entry {
	out := make(map[string]Entry)
	m.entries.Range(func(k, v any) bool {
		entry := v.(*memEntry)
		if entry.expired(now) {
			return true
		}
		ttlSec := int64(entry.ttl / time.Second)
		if entry.ttl > 0 && ttlSec == 0 {
			ttlSec = 1 // sub-second TTLs round up rather than becoming immortal
		}
		out[k.(string)] = Entry{
			Value:      entry.value,
			WrittenAt:  entry.writtenAt,
			TTLSeconds: ttlSec,
		}
		return true
	})
	return out
}

// restore replaces the store contents with the given entries, dropping any
// that are already expired.
func (m *MemoryStore) restore(entries map[string]Entry, now time.Time) {
	for k, e := range entries {
		if e.Expired(now) {
			continue
		}
		m.entries.Store(k, &memEntry{
			value:     e.Value,
			writtenAt: e.WrittenAt,
			ttl:       time.Duration(e.TTLSeconds) * time.Second,
		})
	}
}
