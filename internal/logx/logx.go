package logx

import (
	"context"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	docKey contextKey = iota
	chunkKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithDoc annotates the logger with the doc id if present.
func WithDoc(ctx context.Context, docID schema.DocID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if docID != "" {
		if current, ok := ctx.Value(docKey).(schema.DocID); ok && current == docID {
			return log
		}
		log = log.With("doc", docID)
	}
	return log
}

// WithDocChunk annotates the logger with doc and chunk identifiers.
func WithDocChunk(ctx context.Context, docID schema.DocID, chunkID schema.ChunkID) pslog.Logger {
	log := WithDoc(ctx, docID)
	if chunkID != "" {
		if current, ok := ctx.Value(chunkKey).(schema.ChunkID); ok && current == chunkID {
			return log
		}
		log = log.With("chunk", chunkID)
	}
	return log
}

// WithContextID annotates the logger with a notebook context id when available.
func WithContextID(log pslog.Logger, ctxID schema.NotebookContextID) pslog.Logger {
	if ctxID != "" {
		log = log.With("nb_ctx", ctxID)
	}
	return log
}

// WithRequest annotates the logger with a refresh request id when available.
func WithRequest(log pslog.Logger, requestID schema.RequestID) pslog.Logger {
	if requestID != "" {
		log = log.With("request", requestID)
	}
	return log
}

// ContextWithDoc stores the doc marker on the context for log de-duplication.
func ContextWithDoc(ctx context.Context, docID schema.DocID) context.Context {
	if ctx == nil || docID == "" {
		return ctx
	}
	return context.WithValue(ctx, docKey, docID)
}

// ContextWithChunk stores the chunk marker on the context for log de-duplication.
func ContextWithChunk(ctx context.Context, chunkID schema.ChunkID) context.Context {
	if ctx == nil || chunkID == "" {
		return ctx
	}
	return context.WithValue(ctx, chunkKey, chunkID)
}

// ContextWithDocChunk stores doc/chunk markers on the context for log de-duplication.
func ContextWithDocChunk(ctx context.Context, docID schema.DocID, chunkID schema.ChunkID) context.Context {
	return ContextWithChunk(ContextWithDoc(ctx, docID), chunkID)
}

// ContextWithDocChunkLogger attaches the logger and doc/chunk markers to the context.
func ContextWithDocChunkLogger(ctx context.Context, log pslog.Logger, docID schema.DocID, chunkID schema.ChunkID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithDocChunk(ctx, docID, chunkID)
}

// CopyContextFields copies doc/chunk markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if doc, ok := src.Value(docKey).(schema.DocID); ok && doc != "" {
		dst = ContextWithDoc(dst, doc)
	}
	if chunk, ok := src.Value(chunkKey).(schema.ChunkID); ok && chunk != "" {
		dst = ContextWithChunk(dst, chunk)
	}
	return dst
}
