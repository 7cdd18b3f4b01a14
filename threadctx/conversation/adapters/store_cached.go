package adapters

import (
	"context"
	"fmt"
	"sync"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// CachedThreadStore is a read-through cache in front of another store.
// Entries hold encoded documents so callers never share slices with it.
//
// A miss only populates the cache if no Save completed while the backend
// read was in flight; otherwise an unlocked reader could put an older state
// back over the one a writer just stored.
type CachedThreadStore struct {
	inner ports.ThreadStore
	cache ports.Cache
	ttl   int

	mu    sync.Mutex
	saves uint64
}

func NewCachedThreadStore(inner ports.ThreadStore, cache ports.Cache, ttlSeconds int) *CachedThreadStore {
	return &CachedThreadStore{inner: inner, cache: cache, ttl: ttlSeconds}
}

func cacheKey(id string) string { return "thread:" + id }

func (s *CachedThreadStore) Get(ctx context.Context, threadID string) (ports.ThreadState, error) {
	key := cacheKey(threadID)
	if data, ok := s.cache.Get(ctx, key); ok {
		if state, err := decodeThread(data); err == nil {
			return state, nil
		}
		_ = s.cache.Delete(ctx, key)
	}

	s.mu.Lock()
	gen := s.saves
	s.mu.Unlock()

	state, err := s.inner.Get(ctx, threadID)
	if err != nil {
		return ports.ThreadState{}, err
	}
	data, err := encodeThread(state)
	if err != nil {
		return state, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves == gen {
		_ = s.cache.Set(ctx, key, data, s.ttl)
	}
	return state, nil
}

// Save writes through to the inner store and refreshes the cache only after
// the write succeeded.
func (s *CachedThreadStore) Save(ctx context.Context, state ports.ThreadState) error {
	key := cacheKey(state.ID)
	saveErr := s.inner.Save(ctx, state)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if saveErr != nil {
		_ = s.cache.Delete(ctx, key)
		return saveErr
	}
	data, err := encodeThread(state)
	if err != nil {
		_ = s.cache.Delete(ctx, key)
		return nil
	}
	_ = s.cache.Set(ctx, key, data, s.ttl)
	return nil
}

// IDs delegates to the inner store when it can list.
func (s *CachedThreadStore) IDs(ctx context.Context, prefix string) ([]string, error) {
	lister, ok := s.inner.(ports.ThreadLister)
	if !ok {
		return nil, fmt.Errorf("%T: %w", s.inner, ports.ErrListingUnsupported)
	}
	return lister.IDs(ctx, prefix)
}

var (
	_ ports.ThreadStore  = (*CachedThreadStore)(nil)
	_ ports.ThreadLister = (*CachedThreadStore)(nil)
)
