package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

func TestWithContextIDAddsField(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	log := WithContextID(logger, "abc123")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["nb_ctx"] != "abc123" {
		t.Fatalf("expected nb_ctx field, got %+v", entry)
	}
	if _, ok := entry["request"]; ok {
		t.Fatalf("did not expect request field")
	}
}

func TestWithDocChunkAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithDocChunk(ctx, "doc1", "c1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["doc"] != "doc1" {
		t.Fatalf("expected doc field, got %+v", entry)
	}
	if entry["chunk"] != "c1" {
		t.Fatalf("expected chunk field, got %+v", entry)
	}
}

func TestWithDocChunkSkipsMarkedFields(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := ContextWithDocChunkLogger(context.Background(), logger, "doc1", "c1")
	WithDocChunk(ctx, "doc1", "c1").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["doc"]; ok {
		t.Fatalf("did not expect doc field for marked context, got %+v", entry)
	}
	if _, ok := entry["chunk"]; ok {
		t.Fatalf("did not expect chunk field for marked context, got %+v", entry)
	}
}

func TestCopyContextFields(t *testing.T) {
	src := ContextWithDocChunk(context.Background(), "doc1", "c1")
	dst := CopyContextFields(context.Background(), src)
	if got, _ := dst.Value(docKey).(schema.DocID); got != "doc1" {
		t.Fatalf("expected doc marker, got %q", got)
	}
	if got, _ := dst.Value(chunkKey).(schema.ChunkID); got != "c1" {
		t.Fatalf("expected chunk marker, got %q", got)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
