package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

const pebbleThreadPrefix = "thread:"

// PebbleThreadStore keeps thread documents in a pebble keyspace under
// "thread:<id>". Each Save is a single synced Set.
type PebbleThreadStore struct {
	db *pebble.DB
}

// OpenPebbleThreadStore opens (or creates) a pebble database at dir.
func OpenPebbleThreadStore(dir string, opts *pebble.Options) (*PebbleThreadStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	if opts.FS == nil {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return nil, fmt.Errorf("could not create pebble directory: %w", err)
		}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	return &PebbleThreadStore{db: db}, nil
}

func (s *PebbleThreadStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func threadKey(id string) []byte {
	return []byte(pebbleThreadPrefix + id)
}

func (s *PebbleThreadStore) Get(ctx context.Context, threadID string) (ports.ThreadState, error) {
	if err := ctx.Err(); err != nil {
		return ports.ThreadState{}, err
	}
	v, closer, err := s.db.Get(threadKey(threadID))
	if errors.Is(err, pebble.ErrNotFound) {
		return ports.ThreadState{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.ThreadState{}, fmt.Errorf("failed to read thread %s: %w", threadID, err)
	}
	defer closer.Close()
	return decodeThread(v)
}

func (s *PebbleThreadStore) Save(ctx context.Context, state ports.ThreadState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := encodeThread(state)
	if err != nil {
		return err
	}
	if err := s.db.Set(threadKey(state.ID), doc, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save thread %s: %w", state.ID, err)
	}
	return nil
}

// IDs lists thread ids with prefix using a bounded iterator.
func (s *PebbleThreadStore) IDs(ctx context.Context, prefix string) ([]string, error) {
	lower := threadKey(prefix)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer it.Close()

	var ids []string
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids = append(ids, string(it.Key()[len(pebbleThreadPrefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}
	return ids, nil
}

// prefixUpperBound returns the smallest key greater than every key with
// prefix p, or nil when p is all 0xff.
func prefixUpperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var (
	_ ports.ThreadStore  = (*PebbleThreadStore)(nil)
	_ ports.ThreadLister = (*PebbleThreadStore)(nil)
)
