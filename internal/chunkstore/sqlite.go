package chunkstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// SQLiteStore keeps cached output in a SQLite database in WAL mode.
type SQLiteStore struct {
	db        *sql.DB
	maxOutput int
	log       pslog.Logger
}

var _ core.ChunkStore = (*SQLiteStore)(nil)

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string, maxOutputs int, logger pslog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("chunk store database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger != nil {
		logger = logger.With("store_db", path)
		logger.Debug("chunk store opened", "backend", BackendSQLite)
	}
	return &SQLiteStore{db: db, maxOutput: maxOutputs, log: logger}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// ListChunkIDs implements core.ChunkStore.
func (s *SQLiteStore) ListChunkIDs(ctx context.Context, req core.ChunkListRequest) ([]schema.ChunkID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id FROM chunks c
		WHERE c.ctx_id = ? AND c.doc_id = ?
		  AND EXISTS (
		    SELECT 1 FROM outputs o
		    WHERE o.ctx_id = c.ctx_id AND o.doc_id = c.doc_id AND o.chunk_id = c.chunk_id
		  )
		ORDER BY c.position`, string(req.ContextID), string(req.DocID))
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	var ids []schema.ChunkID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		ids = append(ids, schema.ChunkID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return ids, nil
}

// ClearOutput implements core.ChunkStore.
func (s *SQLiteStore) ClearOutput(ctx context.Context, key core.ChunkKey, removeCacheFiles bool) error {
	query := `DELETE FROM outputs WHERE ctx_id = ? AND doc_id = ? AND chunk_id = ?`
	if removeCacheFiles {
		query = `DELETE FROM chunks WHERE ctx_id = ? AND doc_id = ? AND chunk_id = ?`
	}
	if _, err := s.db.ExecContext(ctx, query, string(key.ContextID), string(key.DocID), string(key.ChunkID)); err != nil {
		if s.log != nil {
			s.log.Warn("chunk store clear failed", "nb_ctx", string(key.ContextID), "doc", string(key.DocID), "chunk", string(key.ChunkID), "err", err)
		}
		return fmt.Errorf("clear chunk: %w", err)
	}
	return nil
}

// ReadOutput implements core.ChunkStore.
func (s *SQLiteStore) ReadOutput(ctx context.Context, key core.ChunkKey) ([]schema.ChunkOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, output_type, body FROM outputs
		WHERE ctx_id = ? AND doc_id = ? AND chunk_id = ?
		ORDER BY seq`, string(key.ContextID), string(key.DocID), string(key.ChunkID))
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	defer rows.Close()
	var outputs []schema.ChunkOutput
	for rows.Next() {
		var (
			out      schema.ChunkOutput
			typeName string
		)
		if err := rows.Scan(&out.Seq, &typeName, &out.Text); err != nil {
			return nil, fmt.Errorf("scan output: %w", err)
		}
		out.Type = schema.OutputType(typeName)
		outputs = append(outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return outputs, nil
}

// AppendOutput implements core.ChunkStore.
func (s *SQLiteStore) AppendOutput(ctx context.Context, key core.ChunkKey, output schema.ChunkOutput) (schema.ChunkOutput, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.ChunkOutput{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ctxID, docID, chunkID := string(key.ContextID), string(key.DocID), string(key.ChunkID)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks (ctx_id, doc_id, chunk_id, position)
		SELECT ?, ?, ?, COALESCE(MAX(position), 0) + 1 FROM chunks WHERE ctx_id = ? AND doc_id = ?
		ON CONFLICT (ctx_id, doc_id, chunk_id) DO NOTHING`,
		ctxID, docID, chunkID, ctxID, docID); err != nil {
		return schema.ChunkOutput{}, fmt.Errorf("register chunk: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM outputs
		WHERE ctx_id = ? AND doc_id = ? AND chunk_id = ?`,
		ctxID, docID, chunkID).Scan(&output.Seq); err != nil {
		return schema.ChunkOutput{}, fmt.Errorf("next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO outputs (ctx_id, doc_id, chunk_id, seq, output_type, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ctxID, docID, chunkID, output.Seq, string(output.Type), output.Text); err != nil {
		return schema.ChunkOutput{}, fmt.Errorf("insert output: %w", err)
	}
	if s.maxOutput > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM outputs
			WHERE ctx_id = ? AND doc_id = ? AND chunk_id = ? AND seq <= ?`,
			ctxID, docID, chunkID, output.Seq-int64(s.maxOutput)); err != nil {
			return schema.ChunkOutput{}, fmt.Errorf("trim output: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return schema.ChunkOutput{}, fmt.Errorf("commit append: %w", err)
	}
	if s.log != nil {
		s.log.Trace("chunk store append ok", "nb_ctx", ctxID, "doc", docID, "chunk", chunkID, "seq", output.Seq)
	}
	return output, nil
}
