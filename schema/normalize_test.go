package schema

import (
	"errors"
	"testing"
)

func TestValidateSetChunkConsole(t *testing.T) {
	cases := []struct {
		name  string
		req   SetChunkConsoleRequest
		valid bool
	}{
		{"single", SetChunkConsoleRequest{DocID: "doc1", ChunkID: "c1", ExecMode: ExecModeSingle}, true},
		{"batch", SetChunkConsoleRequest{DocID: "doc1", ChunkID: "c1", ExecMode: ExecModeBatch, PixelWidth: 80, CharWidth: 30}, true},
		{"missing-doc", SetChunkConsoleRequest{ChunkID: "c1"}, false},
		{"missing-chunk", SetChunkConsoleRequest{DocID: "doc1"}, false},
		{"bad-mode", SetChunkConsoleRequest{DocID: "doc1", ChunkID: "c1", ExecMode: 2}, false},
		{"negative-width", SetChunkConsoleRequest{DocID: "doc1", ChunkID: "c1", PixelWidth: -1}, false},
	}

	for _, tc := range cases {
		err := ValidateSetChunkConsole(tc.req)
		if tc.valid && err != nil {
			t.Fatalf("case %q expected valid, got error: %v", tc.name, err)
		}
		if !tc.valid {
			if err == nil {
				t.Fatalf("case %q expected error, got nil", tc.name)
			}
			if !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("case %q expected ErrInvalidParams, got %v", tc.name, err)
			}
		}
	}
}

func TestValidateIdentity(t *testing.T) {
	if err := ValidateIdentity(Identity{User: "alice", Session: "s1"}); err != nil {
		t.Fatalf("expected valid identity, got %v", err)
	}
	if err := ValidateIdentity(Identity{User: "alice"}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestChunkOptionsEvalEnabled(t *testing.T) {
	cases := []struct {
		name string
		opts ChunkOptions
		want bool
	}{
		{"nil", nil, true},
		{"missing", ChunkOptions{"echo": true}, true},
		{"true", ChunkOptions{"eval": true}, true},
		{"false", ChunkOptions{"eval": false}, false},
		{"non-bool", ChunkOptions{"eval": []any{1.0, 2.0}}, true},
	}
	for _, tc := range cases {
		if got := tc.opts.EvalEnabled(); got != tc.want {
			t.Fatalf("%s: EvalEnabled() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeServiceConfigDefaults(t *testing.T) {
	cfg, err := NormalizeServiceConfig(ServiceConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.QueueDepth != DefaultQueueDepth {
		t.Fatalf("expected default queue depth, got %d", cfg.QueueDepth)
	}
}

func TestNormalizeServiceConfigRejectsHugeQueue(t *testing.T) {
	if _, err := NormalizeServiceConfig(ServiceConfig{QueueDepth: MaxQueueDepth + 1}); err == nil {
		t.Fatalf("expected queue depth error")
	}
}
