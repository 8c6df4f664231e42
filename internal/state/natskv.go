package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// NATSStore backs the Store with a JetStream KeyValue bucket so several
// engine instances can share gate state. Per-entry TTLs ride in the Entry
// envelope and are checked on read; Update maps to the bucket's
// revision-based compare-and-swap.
type NATSStore struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
}

// NewNATSStore connects to url and opens (creating if needed) the bucket.
func NewNATSStore(ctx context.Context, url, bucket string, logger *zap.Logger) (*NATSStore, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("NewNATSStore: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("NewNATSStore: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("NewNATSStore: %w", err)
	}

	return &NATSStore{nc: nc, kv: kv, logger: logger}, nil
}

// Close releases the NATS connection.
func (n *NATSStore) Close() {
	n.nc.Close()
}

func (n *NATSStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	kvEntry, err := n.kv.Get(ctx, sanitizeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("Get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil {
		n.logger.Warn("corrupt state entry, treating as absent",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, false, nil
	}
	if entry.Expired(time.Now()) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (n *NATSStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := marshalEnvelope(value, ttl)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if _, err := n.kv.Put(ctx, sanitizeKey(key), raw); err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

func (n *NATSStore) Delete(ctx context.Context, key string) error {
	err := n.kv.Delete(ctx, sanitizeKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (n *NATSStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) ([]byte, error) {
	k := sanitizeKey(key)
	for i := 0; i < maxCASRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var current []byte
		var revision uint64
		found := false

		kvEntry, err := n.kv.Get(ctx, k)
		switch {
		case err == nil:
			revision = kvEntry.Revision()
			var entry Entry
			if err := json.Unmarshal(kvEntry.Value(), &entry); err == nil && !entry.Expired(time.Now()) {
				current = entry.Value
				found = true
			}
		case errors.Is(err, jetstream.ErrKeyNotFound):
			// create path below
		default:
			return nil, fmt.Errorf("Update: %w", err)
		}

		next, err := fn(current, found)
		if errors.Is(err, ErrSkipUpdate) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}

		raw, err := marshalEnvelope(next, ttl)
		if err != nil {
			return nil, fmt.Errorf("Update: %w", err)
		}

		if revision == 0 {
			_, err = n.kv.Create(ctx, k, raw)
		} else {
			_, err = n.kv.Update(ctx, k, raw, revision)
		}
		if err == nil {
			return next, nil
		}
		if errors.Is(err, jetstream.ErrKeyExists) {
			continue // lost the CAS race
		}
		return nil, fmt.Errorf("Update: %w", err)
	}
	return nil, ErrTooMuchContention
}

func marshalEnvelope(value []byte, ttl time.Duration) ([]byte, error) {
	ttlSec := int64(ttl / time.Second)
	if ttl > 0 && ttlSec == 0 {
		ttlSec = 1
	}
	return json.Marshal(Entry{
		Value:      value,
		WrittenAt:  time.Now(),
		TTLSeconds: ttlSec,
	})
}

// sanitizeKey maps keys onto the JetStream KV charset ([-/_=.a-zA-Z0-9]).
// Session ids and paths may carry arbitrary bytes.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '=', r == '/':
			return r
		default:
			return '_'
		}
	}, key)
}
