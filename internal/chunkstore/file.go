package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// docSnapshot is the on-disk form of one document's cached output.
type docSnapshot struct {
	Order   []schema.ChunkID                        `json:"order"`
	Outputs map[schema.ChunkID][]schema.ChunkOutput `json:"outputs"`
}

// FileStore keeps cached output as JSON files under
// <dir>/<context>/<doc>.json, written atomically.
type FileStore struct {
	dir       string
	maxOutput int
	log       pslog.Logger
	mu        sync.Mutex
}

var _ core.ChunkStore = (*FileStore)(nil)

// NewFileStore constructs a file store rooted at dir.
func NewFileStore(dir string, maxOutputs int, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("chunk store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("store_dir", dir)
	}
	return &FileStore{dir: dir, maxOutput: maxOutputs, log: logger}, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// ListChunkIDs implements core.ChunkStore.
func (s *FileStore) ListChunkIDs(_ context.Context, req core.ChunkListRequest) ([]schema.ChunkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _, err := s.load(req.ContextID, req.DocID)
	if err != nil {
		return nil, err
	}
	ids := make([]schema.ChunkID, 0, len(snap.Order))
	for _, id := range snap.Order {
		if len(snap.Outputs[id]) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ClearOutput implements core.ChunkStore.
func (s *FileStore) ClearOutput(_ context.Context, key core.ChunkKey, removeCacheFiles bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok, err := s.load(key.ContextID, key.DocID)
	if err != nil || !ok {
		return err
	}
	delete(snap.Outputs, key.ChunkID)
	if removeCacheFiles {
		snap.Order = slices.DeleteFunc(snap.Order, func(id schema.ChunkID) bool { return id == key.ChunkID })
	}
	if len(snap.Order) == 0 {
		return s.remove(key.ContextID, key.DocID)
	}
	return s.save(key.ContextID, key.DocID, snap)
}

// ReadOutput implements core.ChunkStore.
func (s *FileStore) ReadOutput(_ context.Context, key core.ChunkKey) ([]schema.ChunkOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _, err := s.load(key.ContextID, key.DocID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.Outputs[key.ChunkID]), nil
}

// AppendOutput implements core.ChunkStore.
func (s *FileStore) AppendOutput(_ context.Context, key core.ChunkKey, output schema.ChunkOutput) (schema.ChunkOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _, err := s.load(key.ContextID, key.DocID)
	if err != nil {
		return schema.ChunkOutput{}, err
	}
	if !slices.Contains(snap.Order, key.ChunkID) {
		snap.Order = append(snap.Order, key.ChunkID)
	}
	outputs := snap.Outputs[key.ChunkID]
	output.Seq = 1
	if n := len(outputs); n > 0 {
		output.Seq = outputs[n-1].Seq + 1
	}
	outputs = append(outputs, output)
	if s.maxOutput > 0 && len(outputs) > s.maxOutput {
		outputs = slices.Clone(outputs[len(outputs)-s.maxOutput:])
	}
	snap.Outputs[key.ChunkID] = outputs
	if err := s.save(key.ContextID, key.DocID, snap); err != nil {
		return schema.ChunkOutput{}, err
	}
	return output, nil
}

func (s *FileStore) load(ctxID schema.NotebookContextID, docID schema.DocID) (docSnapshot, bool, error) {
	empty := docSnapshot{Outputs: map[schema.ChunkID][]schema.ChunkOutput{}}
	path := s.pathFor(ctxID, docID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Trace("chunk store load miss", "nb_ctx", string(ctxID), "doc", string(docID))
			}
			return empty, false, nil
		}
		if s.log != nil {
			s.log.Warn("chunk store load failed", "nb_ctx", string(ctxID), "doc", string(docID), "err", err)
		}
		return empty, false, err
	}
	var snap docSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		if s.log != nil {
			s.log.Warn("chunk store load failed", "nb_ctx", string(ctxID), "doc", string(docID), "err", err)
		}
		return empty, false, err
	}
	if snap.Outputs == nil {
		snap.Outputs = map[schema.ChunkID][]schema.ChunkOutput{}
	}
	return snap, true, nil
}

func (s *FileStore) save(ctxID schema.NotebookContextID, docID schema.DocID, snap docSnapshot) error {
	path := s.pathFor(ctxID, docID)
	fail := func(err error) error {
		if s.log != nil {
			s.log.Warn("chunk store save failed", "nb_ctx", string(ctxID), "doc", string(docID), "err", err)
		}
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fail(err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "chunks-*.json")
	if err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if s.log != nil {
		s.log.Trace("chunk store save ok", "nb_ctx", string(ctxID), "doc", string(docID), "chunks", len(snap.Order))
	}
	return nil
}

func (s *FileStore) remove(ctxID schema.NotebookContextID, docID schema.DocID) error {
	err := os.Remove(s.pathFor(ctxID, docID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) pathFor(ctxID schema.NotebookContextID, docID schema.DocID) string {
	return filepath.Join(s.dir, fileName(string(ctxID)), fileName(string(docID))+".json")
}

// fileName maps an id to a safe path element. Ids that needed rewriting get
// a hash suffix so distinct ids never share a file.
func fileName(value string) string {
	name := sanitize(value)
	if name == "" || name == "." || name == ".." {
		name = "unknown"
	}
	if name != value {
		sum := sha256.Sum256([]byte(value))
		name += "-" + hex.EncodeToString(sum[:4])
	}
	return name
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
