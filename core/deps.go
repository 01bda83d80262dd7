package core

import (
	"context"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// ServiceDeps captures dependencies for the coordinator.
type ServiceDeps struct {
	Identity  schema.Identity
	Store     ChunkStore
	Evaluator OptionEvaluator
	Engine    ExecEngine
	EventSink EventSink
	Notifier  *Notifier
	Logger    pslog.Logger
}

// ChunkKey addresses the stored output of one chunk.
type ChunkKey struct {
	ContextID schema.NotebookContextID
	DocID     schema.DocID
	ChunkID   schema.ChunkID
}

// ChunkListRequest selects the chunks of a document that have cached output.
type ChunkListRequest struct {
	DocPath   string
	DocID     schema.DocID
	ContextID schema.NotebookContextID
}

// ChunkStore persists chunk output per notebook context.
type ChunkStore interface {
	// ListChunkIDs returns chunk ids with cached output in document order.
	ListChunkIDs(ctx context.Context, req ChunkListRequest) ([]schema.ChunkID, error)
	// ClearOutput drops cached output for a chunk. When removeCacheFiles is
	// false the chunk keeps its position in the document order.
	ClearOutput(ctx context.Context, key ChunkKey, removeCacheFiles bool) error
	// ReadOutput returns cached output for a chunk in production order.
	ReadOutput(ctx context.Context, key ChunkKey) ([]schema.ChunkOutput, error)
	// AppendOutput records one output item and returns it with its sequence.
	AppendOutput(ctx context.Context, key ChunkKey, output schema.ChunkOutput) (schema.ChunkOutput, error)
}

// OptionEvaluator turns a raw chunk option string into structured options.
type OptionEvaluator interface {
	Evaluate(ctx context.Context, options string) (schema.ChunkOptions, error)
}

// ExecEngine executes chunk code on behalf of attached consoles.
type ExecEngine interface {
	Attach(ctx context.Context, req schema.ExecAttach) error
	Detach(ctx context.Context, docID schema.DocID, chunkID schema.ChunkID) error
	Input(ctx context.Context, input schema.ExecInput) error
}
