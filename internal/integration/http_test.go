package integration_test

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/nbexec/internal/chunkstore"
	"pkt.systems/nbexec/schema"
)

func runChunk(t *testing.T, st *stack, stream *sseStream, docID, chunkID, line string) {
	t.Helper()
	result := rpc(t, st.httpBase, "set_chunk_console", docID, chunkID, 0, "eval=TRUE", 640, 80, false)
	require.NotNil(t, result)
	require.Equal(t, http.StatusOK, postJSON(t, st.httpBase+"/api/console", map[string]any{"console_id": chunkID}, nil))

	var input schema.ConsoleInputResponse
	require.Equal(t, http.StatusOK, postJSON(t, st.httpBase+"/api/console/input", map[string]any{"console_id": chunkID, "text": line}, &input))
	require.True(t, input.Forwarded)

	output := stream.next(t, "chunk_output")
	require.NotNil(t, output.Output)
	assert.Equal(t, schema.ChunkID(chunkID), output.Output.ChunkID)
	assert.Equal(t, line+"\n", output.Output.Output.Text)
	assert.False(t, output.Output.Replay)

	finished := stream.next(t, "chunk_finished")
	require.NotNil(t, finished.Finished)
	assert.Equal(t, schema.FinishedInteractive, finished.Finished.Type)
	assert.Equal(t, schema.ChunkID(chunkID), finished.Finished.ChunkID)
}

func TestReplayAfterRestart(t *testing.T) {
	requireLong(t)
	cases := []struct {
		name  string
		store func(dir string) chunkstore.Config
	}{
		{
			name: "file",
			store: func(dir string) chunkstore.Config {
				return chunkstore.Config{Backend: chunkstore.BackendFile, Dir: dir}
			},
		},
		{
			name: "sqlite",
			store: func(dir string) chunkstore.Config {
				return chunkstore.Config{Backend: chunkstore.BackendSQLite, Path: filepath.Join(dir, "cache.db")}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			storeCfg := tc.store(t.TempDir())

			first := startStack(t, stackOptions{store: storeCfg})
			startEcho(t, first.engineAddr)
			stream := openStream(t, first.httpBase)
			runChunk(t, first, stream, "d1", "c1", "one")
			runChunk(t, first, stream, "d1", "c2", "two")
			ctxID := first.server.ContextID()
			first.stop(t)

			second := startStack(t, stackOptions{store: storeCfg})
			require.Equal(t, ctxID, second.server.ContextID())
			replay := openStream(t, second.httpBase)

			result := rpc(t, second.httpBase, "refresh_chunk_output", "", "d1", "", "r1")
			assert.Equal(t, true, result["scheduled"])
			assert.Equal(t, float64(2), result["chunks"])

			for _, want := range []struct{ chunk, text string }{{"c1", "one\n"}, {"c2", "two\n"}} {
				event := replay.next(t, "chunk_output")
				require.NotNil(t, event.Output)
				assert.True(t, event.Output.Replay)
				assert.Equal(t, schema.RequestID("r1"), event.Output.RequestID)
				assert.Equal(t, schema.ChunkID(want.chunk), event.Output.ChunkID)
				assert.Equal(t, want.text, event.Output.Output.Text)
			}
			done := replay.next(t, "chunk_finished")
			require.NotNil(t, done.Finished)
			assert.Equal(t, schema.FinishedReplay, done.Finished.Type)
			assert.Equal(t, schema.RequestID("r1"), done.Finished.RequestID)
			assert.Empty(t, done.Finished.ChunkID)
		})
	}
}

func TestHTTPRejectsUnknownMethod(t *testing.T) {
	requireLong(t)
	st := startStack(t, stackOptions{store: chunkstore.Config{Dir: t.TempDir()}})
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	status := postJSON(t, st.httpBase+"/rpc/execute_everything", map[string]any{"params": []any{}}, &out)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_method", out.Error.Code)
}
