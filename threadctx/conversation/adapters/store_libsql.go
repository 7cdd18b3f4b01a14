package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/threadctx/threadctx/conversation/ports"
)

// LibSQLThreadStore keeps one JSON document per thread in the threads table
// created by db.Migrate.
type LibSQLThreadStore struct {
	db *sql.DB
}

func NewLibSQLThreadStore(db *sql.DB) *LibSQLThreadStore {
	return &LibSQLThreadStore{db: db}
}

// Get loads the thread document for threadID.
func (s *LibSQLThreadStore) Get(ctx context.Context, threadID string) (ports.ThreadState, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM threads WHERE id = ?`, threadID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ThreadState{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.ThreadState{}, fmt.Errorf("failed to query thread %s: %w", threadID, err)
	}
	return decodeThread([]byte(doc))
}

// Save replaces the stored document in a single statement, so a failed
// write leaves the previous state in place.
func (s *LibSQLThreadStore) Save(ctx context.Context, state ports.ThreadState) error {
	doc, err := encodeThread(state)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO threads (id, document, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			last_updated = excluded.last_updated
	`
	if _, err := s.db.ExecContext(ctx, query, state.ID, string(doc), state.LastUpdated.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save thread %s: %w", state.ID, err)
	}
	return nil
}

// IDs lists thread ids starting with prefix in lexical order.
func (s *LibSQLThreadStore) IDs(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT id FROM threads WHERE substr(id, 1, ?) = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread ids: %w", err)
	}
	return ids, nil
}

var (
	_ ports.ThreadStore  = (*LibSQLThreadStore)(nil)
	_ ports.ThreadLister = (*LibSQLThreadStore)(nil)
)
