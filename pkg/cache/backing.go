// Package cache provides a namespaced, TTL-aware key/value store with a
// bounded size and least-recently-used eviction. A Store is purely a
// performance layer, but because entries survive source outages it also
// doubles as a degraded-mode data source for the repositories built on it.
package cache

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Backing is an optional persistent key/value surface behind a Store.
// Implementations may fail; the Store swallows every Backing error and keeps
// serving from memory, so a backing can never break the read or write path.
//
// Keys arrive already namespaced as "{namespace}:{key}" and values are the
// serialized `{value, expiresAt}` entry.
type Backing interface {
	// Get returns the serialized entry for a key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a serialized entry. A ttl of zero means no server-side expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	io.Closer
}

// persistedEntry is the wire format for entries written to a Backing.
// A zero ExpiresAt means the entry never expires.
type persistedEntry struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}
