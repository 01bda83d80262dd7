// Package chunkstore persists cached chunk output per notebook context.
package chunkstore

import (
	"errors"
	"fmt"
	"strings"

	"pkt.systems/nbexec/core"
	"pkt.systems/pslog"
)

const (
	// BackendFile stores one JSON document per notebook document.
	BackendFile = "file"
	// BackendSQLite stores output rows in a SQLite database.
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Backend            string
	Dir                string
	Path               string
	MaxOutputsPerChunk int
}

// Store is a core.ChunkStore that holds resources.
type Store interface {
	core.ChunkStore
	Close() error
}

// Open constructs the configured backend.
func Open(cfg Config, logger pslog.Logger) (Store, error) {
	if cfg.MaxOutputsPerChunk < 0 {
		return nil, errors.New("max outputs per chunk must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileStore(cfg.Dir, cfg.MaxOutputsPerChunk, logger)
	case BackendSQLite:
		return OpenSQLite(cfg.Path, cfg.MaxOutputsPerChunk, logger)
	default:
		return nil, fmt.Errorf("unsupported chunk store backend %q", cfg.Backend)
	}
}
