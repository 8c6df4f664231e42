package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store is the shared TTL key/value layer every gate reads and writes.
// Implementations must treat expired entries exactly like missing keys:
// callers can never distinguish the two. Writes are last-writer-wins.
type Store interface {
	// Get returns the value for key, or found=false if the key is missing
	// or its TTL has elapsed.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Put stores value under key with the given TTL. ttl <= 0 means the
	// entry never expires.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Update applies fn to the current value of key and stores the result,
	// retrying on concurrent modification. The swap is atomic per key; no
	// store-wide lock is held while fn runs. fn receives found=false when
	// the key is missing or expired. Returning ErrSkipUpdate from fn
	// leaves the key untouched.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error)
}

// UpdateFunc computes the new value for a key inside a CAS loop. It may run
// more than once, so it must be side-effect free.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// ErrSkipUpdate aborts an Update without writing. Not an error to callers.
var ErrSkipUpdate = errors.New("state: skip update")

// maxCASRetries bounds the Update retry loop under heavy contention.
const maxCASRetries = 16

// ErrTooMuchContention is returned when an Update loses the CAS race
// maxCASRetries times in a row.
var ErrTooMuchContention = errors.New("state: too much contention")

// Namespace constants. Each namespace is written by exactly one owner; any
// gate may read any namespace.
const (
	NamespaceCallHistory        = "call-history"
	NamespaceModifiedFiles      = "modified-files"
	NamespaceCapabilityRegistry = "capability-registry"
	NamespacePhaseState         = "phase-state"
	NamespaceTaskScope          = "task-scope"
	NamespaceFlags              = "flags"
	NamespacePendingQuestion    = "pending-question"
)

// Key builds a namespaced key. The dot separator keeps keys valid for every
// backend, including JetStream KV.
func Key(namespace string, parts ...string) string {
	if len(parts) == 0 {
		return namespace
	}
	return namespace + "." + strings.Join(parts, ".")
}

// Entry is the stored envelope: the raw value plus its write time and TTL.
// Backends that cannot expire keys natively persist the envelope and check
// it on read.
type Entry struct {
	Value      json.RawMessage `json:"value"`
	WrittenAt  time.Time       `json:"written_at"`
	TTLSeconds int64           `json:"ttl_seconds"`
}

// Expired reports whether the entry's TTL has elapsed at now.
// TTLSeconds <= 0 means the entry never expires.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.After(e.WrittenAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// GetJSON reads key and unmarshals it into v. Returns found=false for
// missing/expired keys without touching v.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("GetJSON: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("GetJSON: %w", err)
	}
	return true, nil
}

// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("PutJSON: %w", err)
	}
	if err := s.Put(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("PutJSON: %w", err)
	}
	return nil
}

// AddInt64 atomically adds delta to the integer stored at key and returns
// the new value. A missing key counts from zero.
func AddInt64(ctx context.Context, s Store, key string, delta int64, ttl time.Duration) (int64, error) {
	var total int64
	_, err := s.Update(ctx, key, ttl, func(current []byte, found bool) ([]byte, error) {
		var n int64
		if found {
			if err := json.Unmarshal(current, &n); err != nil {
				// Corrupt counter: restart from zero rather than wedging writers.
				n = 0
			}
		}
		total = n + delta
		return json.Marshal(total)
	})
	if err != nil {
		return 0, fmt.Errorf("AddInt64: %w", err)
	}
	return total, nil
}
