package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/threadctx/threadctx/config"
)

// Connect opens a libsql database. Remote URLs (libsql://, https://) get the
// configured auth token; anything else is treated as a local file path.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, error) {
	dsn, local, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	if local != "" {
		dir := filepath.Dir(local)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}

	logger.Info().Str("type", cfg.Type).Bool("remote", local == "").Msg("connecting to libsql")

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	if local != "" {
		// One writer at a time on an embedded file.
		db.SetMaxOpenConns(1)
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildDSN(cfg config.DatabaseConfig) (dsn, localPath string, err error) {
	raw := strings.TrimSpace(cfg.DSN)
	if raw == "" {
		return "", "", fmt.Errorf("database dsn is empty")
	}

	switch {
	case strings.HasPrefix(raw, "libsql://"), strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "http://"):
		if cfg.AuthToken == "" {
			return raw, "", nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		q.Set("authToken", cfg.AuthToken)
		u.RawQuery = q.Encode()
		return u.String(), "", nil
	case raw == ":memory:" || strings.HasPrefix(raw, "file::memory:"):
		return "file::memory:?cache=shared", "", nil
	default:
		path := strings.TrimPrefix(raw, "file:")
		return "file:" + path, path, nil
	}
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}
