// Package store implements the keyspace: 16 independent logical
// databases, each a byte-string key/value map with a lazily- and
// actively-expired TTL index backed by a min-heap.
package store

import (
	"container/heap"
	"regexp"
	"sync"
	"time"
)

// DB is one logical database: a key/value map plus its TTL side
// structure (a min-heap ordered by (expires_at, sequence) and a lookup
// map from key to the key's current, non-tombstoned heap entry).
type DB struct {
	mu       sync.RWMutex
	data     map[string][]byte
	ttl      ttlHeap
	ttlIndex map[string]*ttlEntry
	seq      uint64
}

func newDB() *DB {
	return &DB{
		data:     make(map[string][]byte),
		ttlIndex: make(map[string]*ttlEntry),
	}
}

// Get returns the value for key iff it is present and active (no TTL
// entry, or the entry's expires_at has not yet passed relative to now).
func (d *DB) Get(key string, now time.Time) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getActiveLocked(key, now)
}

// Exists reports whether key is present and active, without copying its
// value. Used by SET's NX/XX option handling.
func (d *DB) Exists(key string, now time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.getActiveLocked(key, now)
	return ok
}

func (d *DB) getActiveLocked(key string, now time.Time) ([]byte, bool) {
	v, present := d.data[key]
	if !present {
		return nil, false
	}
	if !d.isActiveLocked(key, now) {
		return nil, false
	}
	return v, true
}

// isActiveLocked assumes the key is present in data and reports whether
// its TTL (if any) has not elapsed. Comparison is >=, matching the
// original engine: an entry expiring exactly at now is still active.
func (d *DB) isActiveLocked(key string, now time.Time) bool {
	entry, hasTTL := d.ttlIndex[key]
	if !hasTTL {
		return true
	}
	return !entry.expiresAt.Before(now)
}

// Set writes value unconditionally and clears any existing TTL on key.
func (d *DB) Set(key string, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	d.clearTTLLocked(key)
}

// SetWithExpiry writes value and sets its TTL to expiresAt, replacing any
// prior TTL entry via tombstone-and-push.
func (d *DB) SetWithExpiry(key string, value []byte, expiresAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	d.setTTLLocked(key, expiresAt)
}

func (d *DB) clearTTLLocked(key string) {
	if old, ok := d.ttlIndex[key]; ok {
		old.tombstoned = true
		delete(d.ttlIndex, key)
	}
}

func (d *DB) setTTLLocked(key string, expiresAt time.Time) {
	if old, ok := d.ttlIndex[key]; ok {
		old.tombstoned = true
	}
	d.seq++
	entry := &ttlEntry{expiresAt: expiresAt, sequence: d.seq, key: key}
	heap.Push(&d.ttl, entry)
	d.ttlIndex[key] = entry
}

// Keys returns every key in the DB that is currently active and whose
// decoded form matches re (a fully-anchored pattern, per KEYS semantics).
func (d *DB) Keys(re *regexp.Regexp, now time.Time) [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out [][]byte
	for k := range d.data {
		if !d.isActiveLocked(k, now) {
			continue
		}
		if re.MatchString(k) {
			out = append(out, []byte(k))
		}
	}
	return out
}

// Info reports the number of active keys and the number of keys that
// currently carry a live (non-tombstoned) TTL entry, for INFO's
// "dbN:keys=<n>,expires=<m>" line.
func (d *DB) Info(now time.Time) (activeKeys, withExpiry int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for k := range d.data {
		if d.isActiveLocked(k, now) {
			activeKeys++
		}
	}
	for _, e := range d.ttlIndex {
		if !e.tombstoned {
			withExpiry++
		}
	}
	return activeKeys, withExpiry
}

// ReapExpired pops and discards heap entries whose expiry has passed,
// skipping tombstones, and deletes the corresponding live key from the
// value map. It returns the number of keys actually deleted. This is the
// active-expiry half of the engine; lazy reads via Get/Exists/Keys never
// depend on it for correctness.
func (d *DB) ReapExpired(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	reaped := 0
	for d.ttl.Len() > 0 {
		top := d.ttl[0]
		if top.tombstoned {
			heap.Pop(&d.ttl)
			continue
		}
		if !top.expiresAt.Before(now) {
			break
		}
		heap.Pop(&d.ttl)
		delete(d.data, top.key)
		delete(d.ttlIndex, top.key)
		reaped++
	}
	return reaped
}

// Storage is a fixed vector of logical databases, indexed 0..N-1.
type Storage struct {
	dbs []*DB
}

// NewStorage builds a Storage with n independent, empty databases.
func NewStorage(n int) *Storage {
	dbs := make([]*DB, n)
	for i := range dbs {
		dbs[i] = newDB()
	}
	return &Storage{dbs: dbs}
}

// Count returns the number of logical databases.
func (s *Storage) Count() int { return len(s.dbs) }

// DB returns the database at index i. The caller is responsible for
// validating i is in [0, Count()) first; SELECT's bound check is the only
// sanctioned caller of an out-of-range index, and it rejects before
// reaching here.
func (s *Storage) DB(i int) *DB { return s.dbs[i] }

// ReapExpired runs one active-expiry sweep across every database and
// returns the total number of keys reaped.
func (s *Storage) ReapExpired(now time.Time) int {
	total := 0
	for _, db := range s.dbs {
		total += db.ReapExpired(now)
	}
	return total
}
