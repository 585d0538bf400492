package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/cache"
)

// Source describes where a collection's records come from.
type Source[T Record] struct {
	Fetch  FetchFunc[T]
	Feed   core.Feed     // optional; no live updates without it
	Decode DecodeFunc[T] // required with Feed
}

type registryEntry[T Record] struct {
	store *Store[T]
	sub   core.Subscription
	refs  int
}

// Registry shares one Store per scope between all the consumers of a collection.
// The first consumer of a scope subscribes to the feed, the last one to leave unsubscribes
// and discards the store. Concurrent refreshes of a scope share a single fetch.
type Registry[T Record] struct {
	collection string
	src        Source[T]
	opts       []Option[T]
	cache      *cache.Cache[[]T]

	mu      sync.Mutex
	entries map[string]*registryEntry[T]
	group   singleflight.Group
}

func NewRegistry[T Record](collection string, src Source[T], opts ...Option[T]) *Registry[T] {
	return &Registry[T]{
		collection: collection,
		src:        src,
		opts:       opts,
		cache:      NewStore[T](collection, "", opts...).cache,
		entries:    make(map[string]*registryEntry[T]),
	}
}

func (r *Registry[T]) Collection() string { return r.collection }

// Acquire returns the store of scopeID, creating and subscribing it on first use.
// Every Acquire must be paired with a Release.
func (r *Registry[T]) Acquire(scopeID string) (*Store[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[scopeID]; ok {
		e.refs++
		return e.store, nil
	}

	store := NewStore[T](r.collection, scopeID, r.opts...)
	e := &registryEntry[T]{store: store, refs: 1}
	if r.src.Feed != nil && r.src.Decode != nil {
		sub, err := r.src.Feed.Subscribe(core.ChannelName(r.collection, scopeID), func(evt core.FeedEvent) {
			if change, ok := r.src.Decode(evt); ok {
				store.ApplyEvent(change)
			}
		})
		if err != nil {
			return nil, errors.Wrapf(err, "subscribing to %s", core.ChannelName(r.collection, scopeID))
		}
		e.sub = sub
	}
	r.entries[scopeID] = e
	return store, nil
}

// Release drops one reference to scopeID's store; the last one closes the subscription.
func (r *Registry[T]) Release(scopeID string) error {
	r.mu.Lock()
	e, ok := r.entries[scopeID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, scopeID)
	r.mu.Unlock()

	if e.sub != nil {
		return e.sub.Close()
	}
	return nil
}

// Lookup returns the store of scopeID if some consumer currently holds it.
func (r *Registry[T]) Lookup(scopeID string) (*Store[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[scopeID]; ok {
		return e.store, true
	}
	return nil, false
}

// Active returns the number of scopes currently held.
func (r *Registry[T]) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Refresh refreshes store from the registry source. Callers refreshing the same scope
// at the same time wait for one shared fetch.
// The shared fetch does not stop when one caller's ctx is done; that caller just stops waiting.
func (r *Registry[T]) Refresh(ctx context.Context, store *Store[T]) error {
	key := fmt.Sprintf("%s/%p", store.ScopeID(), store)
	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return nil, store.Refresh(fetchCtx, r.src.Fetch)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate drops the cached records of scopeID, if the stores are cached.
func (r *Registry[T]) Invalidate(scopeID string) {
	if r.cache != nil {
		r.cache.Delete(CacheKey(r.collection, scopeID))
	}
}

// Mount opens a View on scopeID: the store is seeded from a fresh cache entry when there is
// one, fetched otherwise, and kept up to date from the feed until the View is closed.
// A store already loaded by another consumer is used as is.
func (r *Registry[T]) Mount(ctx context.Context, scopeID string) (*View[T], error) {
	store, err := r.Acquire(scopeID)
	if err != nil {
		return nil, err
	}

	if !store.Loaded() {
		if cached, ok := store.Cached(); ok {
			store.Reset(cached)
		} else if err = r.Refresh(ctx, store); err != nil {
			_ = r.Release(scopeID)
			return nil, err
		}
	}
	return &View[T]{registry: r, store: store}, nil
}

// View is one consumer's handle on a shared Store.
type View[T Record] struct {
	registry *Registry[T]
	store    *Store[T]
	once     sync.Once
	closeErr error
}

func (v *View[T]) Store() *Store[T] { return v.store }

// Refresh re-pulls the view's scope from the remote store.
func (v *View[T]) Refresh(ctx context.Context) error {
	return v.registry.Refresh(ctx, v.store)
}

// Close releases the store; it is safe to call more than once.
func (v *View[T]) Close() error {
	v.once.Do(func() {
		v.closeErr = v.registry.Release(v.store.ScopeID())
	})
	return v.closeErr
}
