package adapters

import (
	"context"
	"sync"

	"github.com/armon/go-radix"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// MemoryThreadStore keeps deep copies of thread states in a radix tree so
// prefix sweeps walk ids in lexical order.
type MemoryThreadStore struct {
	mu   sync.RWMutex
	tree *radix.Tree
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{tree: radix.New()}
}

func (s *MemoryThreadStore) Get(ctx context.Context, threadID string) (ports.ThreadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.tree.Get(threadID)
	if !ok {
		return ports.ThreadState{}, ports.ErrNotFound
	}
	return v.(ports.ThreadState).Clone(), nil
}

func (s *MemoryThreadStore) Save(ctx context.Context, state ports.ThreadState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree.Insert(state.ID, state.Clone())
	return nil
}

func (s *MemoryThreadStore) IDs(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	s.tree.WalkPrefix(prefix, func(k string, _ interface{}) bool {
		ids = append(ids, k)
		return false
	})
	return ids, nil
}

// Len reports the number of stored threads.
func (s *MemoryThreadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

var (
	_ ports.ThreadStore  = (*MemoryThreadStore)(nil)
	_ ports.ThreadLister = (*MemoryThreadStore)(nil)
)
