package core

import (
	"context"
	"sync"

	"pkt.systems/nbexec/internal/logx"
	"pkt.systems/nbexec/schema"
)

// RefreshChunkOutput looks up the chunks of a reopened document that have
// cached output. On success it returns an AfterResponse that schedules the
// replay; the caller must run it only after the RPC response was delivered
// so the client is listening before output starts streaming.
func (c *Coordinator) RefreshChunkOutput(ctx context.Context, req schema.RefreshChunkOutputRequest) (schema.RefreshChunkOutputResponse, AfterResponse, error) {
	if err := schema.ValidateRefreshChunkOutput(req); err != nil {
		return schema.RefreshChunkOutputResponse{}, nil, err
	}
	ctxID := req.NotebookContextID
	if ctxID == "" {
		ctxID = c.ctxID
	}
	log := logx.WithRequest(logx.WithContextID(logx.WithDoc(ctx, req.DocID), ctxID), req.RequestID)

	var chunkIDs []schema.ChunkID
	var storeErr error
	err := c.loop.do(ctx, func(ctx context.Context) {
		chunkIDs, storeErr = c.store.ListChunkIDs(ctx, ChunkListRequest{
			DocPath:   req.DocPath,
			DocID:     req.DocID,
			ContextID: ctxID,
		})
	})
	if err != nil {
		return schema.RefreshChunkOutputResponse{}, nil, err
	}
	if storeErr != nil {
		log.Warn("coordinator chunk lookup failed", "doc_path", req.DocPath, "err", storeErr)
		return schema.RefreshChunkOutputResponse{}, nil, wrapStoreError(storeErr)
	}

	ids := append([]schema.ChunkID(nil), chunkIDs...)
	var once sync.Once
	after := func() {
		once.Do(func() {
			err := c.loop.post(context.WithoutCancel(ctx), func(ctx context.Context) {
				c.replayChunkOutputs(ctx, req.DocPath, req.DocID, ctxID, req.RequestID, ids)
			})
			if err != nil {
				log.Warn("coordinator replay not scheduled", "err", err)
			}
		})
	}
	log.Info("coordinator refresh accepted", "chunks", len(ids))
	return schema.RefreshChunkOutputResponse{ContextID: ctxID, Chunks: len(ids), Scheduled: true}, after, nil
}

// replayChunkOutputs emits the cached output of every chunk in order, tagged
// with the refresh request id, then exactly one replay finished event. Events
// route under the coordinator's own context; sourceID only selects the cache.
// Runs on the loop.
func (c *Coordinator) replayChunkOutputs(ctx context.Context, docPath string, docID schema.DocID, sourceID schema.NotebookContextID, requestID schema.RequestID, chunkIDs []schema.ChunkID) {
	log := logx.WithRequest(c.log(ctx).With("doc", docID), requestID)
	emitted := 0
	for _, chunkID := range chunkIDs {
		emitted += c.enqueueCachedOutput(ctx, docPath, docID, chunkID, sourceID, requestID)
	}
	finished := schema.ReplayFinished(c.ctxID, docID, requestID)
	finished.SourceContextID = c.foreignSource(sourceID)
	c.emitFinished(finished)
	log.Info("coordinator replay finished", "chunks", len(chunkIDs), "outputs", emitted)
}

func (c *Coordinator) enqueueCachedOutput(ctx context.Context, docPath string, docID schema.DocID, chunkID schema.ChunkID, sourceID schema.NotebookContextID, requestID schema.RequestID) int {
	outputs, err := c.store.ReadOutput(ctx, ChunkKey{ContextID: sourceID, DocID: docID, ChunkID: chunkID})
	if err != nil {
		c.log(ctx).Warn("coordinator chunk replay failed", "doc", docID, "doc_path", docPath, "chunk", chunkID, "err", err)
		return 0
	}
	for _, output := range outputs {
		c.emitOutput(schema.ChunkOutputEvent{
			ContextID:       c.ctxID,
			DocID:           docID,
			ChunkID:         chunkID,
			RequestID:       requestID,
			Replay:          true,
			Output:          output,
			SourceContextID: c.foreignSource(sourceID),
		})
	}
	return len(outputs)
}

// foreignSource returns sourceID when it names another context.
func (c *Coordinator) foreignSource(sourceID schema.NotebookContextID) schema.NotebookContextID {
	if sourceID == c.ctxID {
		return ""
	}
	return sourceID
}
