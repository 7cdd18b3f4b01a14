package adapters

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// countingStore counts backend reads and can fail saves.
type countingStore struct {
	inner   *MemoryThreadStore
	gets    int
	saveErr error
}

func (c *countingStore) Get(ctx context.Context, id string) (ports.ThreadState, error) {
	c.gets++
	return c.inner.Get(ctx, id)
}

func (c *countingStore) Save(ctx context.Context, st ports.ThreadState) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.inner.Save(ctx, st)
}

func TestCachedThreadStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{inner: NewMemoryThreadStore()}
	require.NoError(t, backend.inner.Save(ctx, sampleThread("t", 2)))
	cached := NewCachedThreadStore(backend, NewLRUCache(4), 60)

	for i := 0; i < 3; i++ {
		st, err := cached.Get(ctx, "t")
		require.NoError(t, err)
		assert.Len(t, st.Messages, 2)
	}
	assert.Equal(t, 1, backend.gets)

	_, err := cached.Get(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCachedThreadStore_FailedSaveKeepsBackendAuthoritative(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{inner: NewMemoryThreadStore()}
	cached := NewCachedThreadStore(backend, NewLRUCache(4), 60)
	require.NoError(t, cached.Save(ctx, sampleThread("t", 2)))

	backend.saveErr = errors.New("disk full")
	err := cached.Save(ctx, sampleThread("t", 5))
	require.Error(t, err)

	st, err := cached.Get(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, st.Messages, 2)
}

// slowReadStore blocks one armed Get after reading until resume is closed.
type slowReadStore struct {
	*MemoryThreadStore
	armed  atomic.Bool
	read   chan struct{}
	resume chan struct{}
}

func (s *slowReadStore) Get(ctx context.Context, id string) (ports.ThreadState, error) {
	st, err := s.MemoryThreadStore.Get(ctx, id)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.resume
	}
	return st, err
}

func TestCachedThreadStore_MissDoesNotOverwriteConcurrentSave(t *testing.T) {
	ctx := context.Background()
	backend := &slowReadStore{
		MemoryThreadStore: NewMemoryThreadStore(),
		read:              make(chan struct{}),
		resume:            make(chan struct{}),
	}
	require.NoError(t, backend.Save(ctx, sampleThread("t", 2)))
	cached := NewCachedThreadStore(backend, NewLRUCache(4), 60)

	backend.armed.Store(true)
	stale := make(chan ports.ThreadState, 1)
	go func() {
		st, err := cached.Get(ctx, "t")
		assert.NoError(t, err)
		stale <- st
	}()
	<-backend.read

	require.NoError(t, cached.Save(ctx, sampleThread("t", 4)))
	close(backend.resume)
	assert.Len(t, (<-stale).Messages, 2)

	st, err := cached.Get(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, st.Messages, 4)
}

func TestCachedThreadStore_ListingRequiresCapableBackend(t *testing.T) {
	cached := NewCachedThreadStore(&countingStore{inner: NewMemoryThreadStore()}, NewLRUCache(4), 60)
	_, err := cached.IDs(context.Background(), "")
	assert.ErrorIs(t, err, ports.ErrListingUnsupported)
}

func TestValidateThreadDocument(t *testing.T) {
	good, err := encodeThread(sampleThread("t", 2))
	require.NoError(t, err)
	assert.NoError(t, ValidateThreadDocument(good))

	bad := []string{
		`{}`,
		`{"id":"","messages":[],"summary":"","last_updated":"2024-01-01T00:00:00Z"}`,
		`{"id":"t","messages":[{"id":"m","role":"tool","content":"x","created_at":"2024-01-01T00:00:00Z"}],"summary":"","last_updated":"2024-01-01T00:00:00Z"}`,
		`{"id":"t","messages":null,"summary":"","last_updated":"2024-01-01T00:00:00Z"}`,
	}
	for _, doc := range bad {
		assert.ErrorIs(t, ValidateThreadDocument([]byte(doc)), ErrInvalidDocument, doc)
	}
	assert.ErrorIs(t, ValidateThreadDocument([]byte(`not json`)), ErrInvalidDocument)
}
