// Package live keeps an in-memory, ordered copy of one scoped remote collection
// (e.g. one classroom's assignments) in sync with the remote store through explicit
// refreshes and best-effort push events.
package live

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trezcool/masomo-live/core/cache"
)

// FetchFunc lists the records of a scope from the remote store.
type FetchFunc[T Record] func(ctx context.Context, scopeID string) ([]T, error)

type Option[T Record] func(*Store[T])

// WithCache writes every refresh result to c under CacheKey(collection, scopeID) for ttl.
func WithCache[T Record](c *cache.Cache[[]T], ttl time.Duration) Option[T] {
	return func(s *Store[T]) {
		s.cache = c
		s.ttl = ttl
	}
}

// PersistMutations also writes the cache entry after every event or optimistic add.
// It only has an effect together with WithCache.
func PersistMutations[T Record]() Option[T] {
	return func(s *Store[T]) { s.persistMutations = true }
}

// CacheKey is the cache key of a scoped collection, e.g. "assignments-<classroomID>".
func CacheKey(collection, scopeID string) string {
	return collection + "-" + scopeID
}

// Store holds the records of one (collection, scope) pair in insertion order.
// Records are unique by id. All mutations go through Refresh, Reset, ApplyEvent and AddOptimistic.
type Store[T Record] struct {
	collection string
	scopeID    string

	cache            *cache.Cache[[]T]
	ttl              time.Duration
	persistMutations bool

	// refreshes are numbered when they start; a result is dropped when a refresh
	// that started later has already been applied.
	refreshSeq atomic.Uint64

	mu         sync.RWMutex
	records    []T
	index      map[string]int
	appliedSeq uint64
	loaded     bool

	watchMu  sync.Mutex
	watchers map[int]func([]T)
	watchID  int
}

func NewStore[T Record](collection, scopeID string, opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		collection: collection,
		scopeID:    scopeID,
		index:      make(map[string]int),
		watchers:   make(map[int]func([]T)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store[T]) Collection() string { return s.collection }
func (s *Store[T]) ScopeID() string    { return s.scopeID }
func (s *Store[T]) CacheKey() string   { return CacheKey(s.collection, s.scopeID) }

// Loaded reports whether the store has been filled by Refresh or Reset at least once.
func (s *Store[T]) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Cached returns the cached records of this store's scope when the entry is still fresh.
func (s *Store[T]) Cached() ([]T, bool) {
	if s.cache == nil || !s.cache.IsFresh(s.CacheKey()) {
		return nil, false
	}
	return s.cache.Get(s.CacheKey())
}

// Refresh replaces all records with the result of fetch and updates the cache entry.
// fetch errors are returned unchanged and leave the store untouched.
func (s *Store[T]) Refresh(ctx context.Context, fetch FetchFunc[T]) error {
	seq := s.refreshSeq.Add(1)

	records, err := fetch(ctx, s.scopeID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if seq < s.appliedSeq {
		s.mu.Unlock()
		return nil
	}
	s.appliedSeq = seq
	s.replaceLocked(records)
	snap := s.snapshotLocked()
	s.persistLocked(snap, true)
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Reset replaces all records without fetching, e.g. from a fresh cache entry.
func (s *Store[T]) Reset(records []T) {
	s.mu.Lock()
	s.replaceLocked(records)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// ApplyEvent reconciles one push event:
//   - create appends, or updates in place when the id is already present
//   - update replaces the record with the same id, no-op when absent
//   - delete removes the record with the same id, no-op when absent
//
// Events of another scope and events of unknown kind are ignored.
func (s *Store[T]) ApplyEvent(e Event[T]) {
	// deletes carry no record, so they have no scope to check
	if e.Kind != EventDelete && e.Record.RecordScope() != s.scopeID {
		return
	}
	id := e.recordID()
	if id == "" {
		return
	}

	s.mu.Lock()
	var changed bool
	switch e.Kind {
	case EventCreate:
		if e.Record.RecordID() == id {
			changed = s.upsertLocked(e.Record)
		}
	case EventUpdate:
		if i, ok := s.index[id]; ok && e.Record.RecordID() == id {
			s.records[i] = e.Record
			changed = true
		}
	case EventDelete:
		changed = s.removeLocked(id)
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.persistLocked(snap, false)
	s.mu.Unlock()

	s.notify(snap)
}

// AddOptimistic appends rec right after a successful local write, ahead of its create event.
// The create event then updates it in place instead of appending a duplicate.
func (s *Store[T]) AddOptimistic(rec T) {
	if rec.RecordID() == "" {
		return
	}
	if rec.RecordScope() != s.scopeID {
		return
	}

	s.mu.Lock()
	s.upsertLocked(rec)
	snap := s.snapshotLocked()
	s.persistLocked(snap, false)
	s.mu.Unlock()

	s.notify(snap)
}

// Snapshot returns a copy of the records in insertion order.
func (s *Store[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Sorted returns a snapshot sorted with less; the store order is left untouched.
func (s *Store[T]) Sorted(less func(a, b T) bool) []T {
	snap := s.Snapshot()
	sort.SliceStable(snap, func(i, j int) bool { return less(snap[i], snap[j]) })
	return snap
}

func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i, ok := s.index[id]; ok {
		return s.records[i], true
	}
	var zero T
	return zero, false
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Watch registers fn to be called with a new snapshot after every change.
// The returned func unregisters it.
func (s *Store[T]) Watch(fn func([]T)) (cancel func()) {
	s.watchMu.Lock()
	s.watchID++
	id := s.watchID
	s.watchers[id] = fn
	s.watchMu.Unlock()

	return func() {
		s.watchMu.Lock()
		delete(s.watchers, id)
		s.watchMu.Unlock()
	}
}

// Persist writes the current records to the cache, if one is wired.
func (s *Store[T]) Persist() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(s.CacheKey(), s.snapshotLocked(), s.ttl)
}

// persistLocked must run under s.mu so cache writes land in mutation order.
func (s *Store[T]) persistLocked(snap []T, refreshed bool) {
	if s.cache == nil || !(refreshed || s.persistMutations) {
		return
	}
	s.cache.Set(s.CacheKey(), snap, s.ttl)
}

func (s *Store[T]) notify(snap []T) {
	s.watchMu.Lock()
	fns := make([]func([]T), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// replaceLocked sets records, collapsing duplicate ids onto the first position (last value wins).
func (s *Store[T]) replaceLocked(records []T) {
	s.records = make([]T, 0, len(records))
	s.index = make(map[string]int, len(records))
	for _, rec := range records {
		s.upsertLocked(rec)
	}
	s.loaded = true
}

func (s *Store[T]) upsertLocked(rec T) bool {
	id := rec.RecordID()
	if i, ok := s.index[id]; ok {
		s.records[i] = rec
		return true
	}
	s.index[id] = len(s.records)
	s.records = append(s.records, rec)
	return true
}

func (s *Store[T]) removeLocked(id string) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	copy(s.records[i:], s.records[i+1:])
	var zero T
	s.records[len(s.records)-1] = zero
	s.records = s.records[:len(s.records)-1]
	delete(s.index, id)
	for j := i; j < len(s.records); j++ {
		s.index[s.records[j].RecordID()] = j
	}
	return true
}

func (s *Store[T]) snapshotLocked() []T {
	snap := make([]T, len(s.records))
	copy(snap, s.records)
	return snap
}
