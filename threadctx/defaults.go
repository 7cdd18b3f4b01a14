// Package threadctx holds application-wide defaults shared by the config,
// db and conversation packages.
package threadctx

import (
	"os"
	"path/filepath"
)

const DefaultAppName = "threadctx"

var (
	// DefaultConfigPath is $HOME/.config/threadctx, falling back to the working directory.
	DefaultConfigPath = defaultConfigPath()

	DefaultDataDir = filepath.Join(DefaultConfigPath, "data")

	DefaultDatabaseType = "libsql"
	DefaultDatabaseDSN  = filepath.Join(DefaultDataDir, "threads.db")
	DefaultPebbleDir    = filepath.Join(DefaultDataDir, "pebble")
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", "."+DefaultAppName)
	}
	return filepath.Join(home, ".config", DefaultAppName)
}
