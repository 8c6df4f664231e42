package registry

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// negativeEntry marks a cached "not registered" lookup. It unmarshals to a
// nil pointer, so readers need no special casing.
var negativeEntry = []byte("null")

// lookupCache is a TTL cache over marshaled grants and tool specs. Ristretto
// may drop entries under pressure; a miss just falls through to the source,
// so lossiness costs a query, never correctness.
type lookupCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

func newLookupCache(maxCostBytes int64, ttl time.Duration) (*lookupCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &lookupCache{c: c, ttl: ttl}, nil
}

func (l *lookupCache) get(key string) ([]byte, bool) {
	return l.c.Get(key)
}

func (l *lookupCache) set(key string, raw []byte) {
	if raw == nil {
		raw = negativeEntry
	}
	l.c.SetWithTTL(key, raw, int64(len(raw)), l.ttl)
}

func (l *lookupCache) close() {
	l.c.Close()
}
