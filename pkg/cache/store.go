package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is used when Config.DefaultTTL is unset.
const DefaultTTL = 5 * time.Minute

// DefaultCleanupInterval is the sweep cadence when Config.CleanupInterval is unset.
const DefaultCleanupInterval = time.Minute

// Config holds construction parameters for a Store.
type Config struct {
	// Namespace prefixes every key. Repositories sharing one Backing must
	// use distinct namespaces.
	Namespace string
	// Capacity is the maximum number of entries. Must be > 0.
	Capacity int
	// DefaultTTL applies to Set; SetWithTTL overrides it per entry.
	DefaultTTL time.Duration
	// CleanupInterval is the cadence of the background expiry sweep.
	// A negative value disables the sweep entirely.
	CleanupInterval time.Duration
	// Backing is an optional persistent layer. Nil means memory only.
	Backing Backing
	// Clock overrides the time source. Nil means time.Now. Tests use this
	// to drive expiry and recency deterministically.
	Clock func() time.Time
}

// entry is the in-memory cache record. A zero expiresAt means no deadline:
// the entry never expires.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// accessStamp records the most recent touch of a key. The sequence number
// breaks ties between touches that share a clock reading, so eviction stays
// deterministic under a frozen test clock.
type accessStamp struct {
	at  time.Time
	seq uint64
}

func (a accessStamp) before(b accessStamp) bool {
	if a.at.Equal(b.at) {
		return a.seq < b.seq
	}
	return a.at.Before(b.at)
}

// Stats is a point-in-time summary of a Store. Size counts every resident
// entry, including ones that have logically expired but not yet been purged;
// Active is Size minus those.
type Stats struct {
	Size     int
	Active   int
	Expired  int
	Capacity int
	TTL      time.Duration
}

// Store is a thread-safe, namespaced key/value cache with per-entry expiry
// and LRU eviction bounded by a fixed capacity. The in-memory map is always
// authoritative; a configured Backing is written through on Set and read
// through on a memory miss, and every Backing failure is swallowed.
//
// A background sweep purges expired entries for the lifetime of the Store
// and stops when Close is called.
type Store[V any] struct {
	namespace  string
	capacity   int
	defaultTTL time.Duration
	backing    Backing
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
	access  map[string]accessStamp
	seq     uint64

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

// NewStore creates a Store and, unless sweeping is disabled, starts its
// background cleanup goroutine. Close releases it.
func NewStore[V any](cfg Config, logger zerolog.Logger) (*Store[V], error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("cache: capacity must be greater than 0")
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Store[V]{
		namespace:  cfg.Namespace,
		capacity:   cfg.Capacity,
		defaultTTL: cfg.DefaultTTL,
		backing:    cfg.Backing,
		logger:     logger.With().Str("component", "CacheStore").Str("namespace", cfg.Namespace).Logger(),
		now:        cfg.Clock,
		entries:    make(map[string]entry[V]),
		access:     make(map[string]accessStamp),
		stopSweep:  make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		s.sweepWG.Add(1)
		go s.sweep(cfg.CleanupInterval)
	}

	return s, nil
}

func (s *Store[V]) fullKey(key string) string {
	return s.namespace + ":" + key
}

// Get returns the value for a key if it is present and unexpired. A hit
// refreshes the key's access stamp, so frequently-read entries stay exempt
// from eviction. An expired entry is purged as a side effect and reported as
// a miss.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool) {
	fk := s.fullKey(key)

	s.mu.Lock()
	if e, ok := s.entries[fk]; ok {
		if s.expired(e) {
			s.removeLocked(fk)
			s.mu.Unlock()
			s.deleteFromBacking(ctx, fk)
			var zero V
			return zero, false
		}
		s.touchLocked(fk)
		s.mu.Unlock()
		return e.value, true
	}
	s.mu.Unlock()

	return s.readThrough(ctx, fk)
}

// readThrough consults the Backing after a memory miss. An adopted entry
// counts as a fresh insert and is subject to eviction like any other.
func (s *Store[V]) readThrough(ctx context.Context, fk string) (V, bool) {
	var zero V
	if s.backing == nil {
		return zero, false
	}

	data, err := s.backing.Get(ctx, fk)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Backing read failed; treating as miss.")
		return zero, false
	}
	if data == nil {
		return zero, false
	}

	var pe persistedEntry
	if err := json.Unmarshal(data, &pe); err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Backing entry is malformed; discarding.")
		s.deleteFromBacking(ctx, fk)
		return zero, false
	}
	if !pe.ExpiresAt.IsZero() && !s.now().Before(pe.ExpiresAt) {
		s.deleteFromBacking(ctx, fk)
		return zero, false
	}

	var value V
	if err := json.Unmarshal(pe.Value, &value); err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Backing value failed to decode; discarding.")
		s.deleteFromBacking(ctx, fk)
		return zero, false
	}

	s.mu.Lock()
	s.insertLocked(fk, entry[V]{value: value, expiresAt: pe.ExpiresAt})
	s.mu.Unlock()
	return value, true
}

// Set stores a value under the default TTL.
func (s *Store[V]) Set(ctx context.Context, key string, value V) {
	s.SetWithTTL(ctx, key, value, s.defaultTTL)
}

// SetWithTTL stores a value with an explicit TTL. A ttl of zero or less
// means the entry never expires; it is the absence of a deadline, not an
// already-expired entry.
//
// Inserting a new key into a full store first evicts exactly one entry, the
// one with the oldest access stamp. Updates to an existing key never evict.
func (s *Store[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) {
	fk := s.fullKey(key)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.insertLocked(fk, entry[V]{value: value, expiresAt: expiresAt})
	s.mu.Unlock()

	s.writeToBacking(ctx, fk, value, expiresAt, ttl)
}

// insertLocked places an entry, evicting first when the key is new and the
// store is at capacity. Callers hold s.mu.
func (s *Store[V]) insertLocked(fk string, e entry[V]) {
	if _, exists := s.entries[fk]; !exists && len(s.entries) >= s.capacity {
		s.evictLocked()
	}
	s.entries[fk] = e
	s.touchLocked(fk)
}

// evictLocked removes the entry with the oldest access stamp.
func (s *Store[V]) evictLocked() {
	var oldestKey string
	var oldest accessStamp
	first := true
	for k, stamp := range s.access {
		if first || stamp.before(oldest) {
			oldestKey = k
			oldest = stamp
			first = false
		}
	}
	if !first {
		s.removeLocked(oldestKey)
	}
}

func (s *Store[V]) touchLocked(fk string) {
	s.seq++
	s.access[fk] = accessStamp{at: s.now(), seq: s.seq}
}

func (s *Store[V]) removeLocked(fk string) {
	delete(s.entries, fk)
	delete(s.access, fk)
}

func (s *Store[V]) expired(e entry[V]) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

// Has reports whether a key is present and unexpired. Unlike Get it does not
// refresh the key's access stamp and does not purge an expired entry.
func (s *Store[V]) Has(key string) bool {
	fk := s.fullKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fk]
	return ok && !s.expired(e)
}

// Invalidate removes a key unconditionally. Removing an absent key is a no-op.
func (s *Store[V]) Invalidate(ctx context.Context, key string) {
	fk := s.fullKey(key)
	s.mu.Lock()
	s.removeLocked(fk)
	s.mu.Unlock()
	s.deleteFromBacking(ctx, fk)
}

// Clear removes all entries, or only those whose namespaced key contains
// pattern when pattern is non-empty.
func (s *Store[V]) Clear(ctx context.Context, pattern string) {
	var removed []string

	s.mu.Lock()
	for fk := range s.entries {
		if pattern == "" || strings.Contains(fk, pattern) {
			s.removeLocked(fk)
			removed = append(removed, fk)
		}
	}
	s.mu.Unlock()

	if s.backing == nil {
		return
	}
	keys, err := s.backing.Keys(ctx, s.namespace+":")
	if err != nil {
		s.logger.Warn().Err(err).Msg("Backing key scan failed during clear.")
		// Still remove what memory knew about.
		keys = removed
	}
	for _, fk := range keys {
		if pattern == "" || strings.Contains(fk, pattern) {
			s.deleteFromBacking(ctx, fk)
		}
	}
}

// RemoveExpiredEntries purges every resident entry whose deadline has passed
// and returns how many were removed. The periodic sweep calls this; tests
// can call it directly against a virtual clock.
func (s *Store[V]) RemoveExpiredEntries(ctx context.Context) int {
	var purged []string

	s.mu.Lock()
	for fk, e := range s.entries {
		if s.expired(e) {
			s.removeLocked(fk)
			purged = append(purged, fk)
		}
	}
	s.mu.Unlock()

	for _, fk := range purged {
		s.deleteFromBacking(ctx, fk)
	}
	return len(purged)
}

// GetStats summarizes the store. Size includes entries that have expired but
// not yet been purged by a read or a sweep.
func (s *Store[V]) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, e := range s.entries {
		if s.expired(e) {
			expired++
		}
	}
	return Stats{
		Size:     len(s.entries),
		Active:   len(s.entries) - expired,
		Expired:  expired,
		Capacity: s.capacity,
		TTL:      s.defaultTTL,
	}
}

// Close stops the background sweep and closes the Backing, if any.
func (s *Store[V]) Close() error {
	close(s.stopSweep)
	s.sweepWG.Wait()
	if s.backing != nil {
		return s.backing.Close()
	}
	return nil
}

// sweep runs the periodic expiry purge. A single goroutine runs ticks
// serially, so one sweep can never overlap the next; a tick that fires while
// a sweep is still running is simply absorbed by the ticker.
func (s *Store[V]) sweep(interval time.Duration) {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if n := s.RemoveExpiredEntries(ctx); n > 0 {
				s.logger.Debug().Int("purged", n).Msg("Cache sweep removed expired entries.")
			}
			cancel()
		}
	}
}

func (s *Store[V]) writeToBacking(ctx context.Context, fk string, value V, expiresAt time.Time, ttl time.Duration) {
	if s.backing == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Failed to marshal value for backing; memory copy retained.")
		return
	}
	data, err := json.Marshal(persistedEntry{Value: raw, ExpiresAt: expiresAt})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Failed to marshal entry for backing; memory copy retained.")
		return
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.backing.Set(ctx, fk, data, ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Backing write failed; memory copy retained.")
	}
}

func (s *Store[V]) deleteFromBacking(ctx context.Context, fk string) {
	if s.backing == nil {
		return
	}
	if err := s.backing.Delete(ctx, fk); err != nil {
		s.logger.Warn().Err(err).Str("key", fk).Msg("Backing delete failed.")
	}
}
