package schema

// FinishedType tags which code path produced a finished event.
type FinishedType int

const (
	// FinishedReplay marks the end of a replay started by a refresh request.
	FinishedReplay FinishedType = 0
	// FinishedInteractive marks the end of a live chunk execution.
	FinishedInteractive FinishedType = 1
)

func (t FinishedType) String() string {
	switch t {
	case FinishedReplay:
		return "replay"
	case FinishedInteractive:
		return "interactive"
	default:
		return "unknown"
	}
}

// OutputType classifies a single chunk output item.
type OutputType string

const (
	// OutputText is plain console text.
	OutputText OutputType = "text"
	// OutputError is an error message raised while executing.
	OutputError OutputType = "error"
	// OutputPlot references a rendered plot.
	OutputPlot OutputType = "plot"
	// OutputHTML carries an HTML widget payload.
	OutputHTML OutputType = "html"
	// OutputData carries a tabular data payload.
	OutputData OutputType = "data"
)

// NormalizeOutputType returns the known output type or OutputText.
func NormalizeOutputType(value string) OutputType {
	switch OutputType(value) {
	case OutputText, OutputError, OutputPlot, OutputHTML, OutputData:
		return OutputType(value)
	default:
		return OutputText
	}
}

// ChunkOutput is a single output item produced by a chunk. Payloads of plot,
// html and data items are opaque to the coordinator.
type ChunkOutput struct {
	Seq  int64      `json:"seq"`
	Type OutputType `json:"type"`
	Text string     `json:"text"`
}

// ChunkOutputEvent delivers one output item to observing clients.
type ChunkOutputEvent struct {
	ContextID NotebookContextID `json:"nb_ctx_id"`
	DocID     DocID             `json:"doc_id"`
	ChunkID   ChunkID           `json:"chunk_id"`
	RequestID RequestID         `json:"request_id"`
	Replay    bool              `json:"replay"`
	Output    ChunkOutput       `json:"output"`
	// SourceContextID names the context a replay read from when it differs
	// from ContextID, which always routes to the requesting coordinator.
	SourceContextID NotebookContextID `json:"source_nb_ctx_id,omitempty"`
}

// ChunkOutputFinishedEvent signals that no more output follows for either a
// replay (RequestID set, ChunkID empty) or a live execution (ChunkID set,
// RequestID empty).
type ChunkOutputFinishedEvent struct {
	ContextID NotebookContextID `json:"nb_ctx_id"`
	DocID     DocID             `json:"doc_id"`
	RequestID RequestID         `json:"request_id"`
	ChunkID   ChunkID           `json:"chunk_id"`
	Type      FinishedType      `json:"type"`
	// SourceContextID is set on replays of another context's cache.
	SourceContextID NotebookContextID `json:"source_nb_ctx_id,omitempty"`
}

// ReplayFinished builds the terminal event of a replay.
func ReplayFinished(ctxID NotebookContextID, docID DocID, requestID RequestID) ChunkOutputFinishedEvent {
	return ChunkOutputFinishedEvent{
		ContextID: ctxID,
		DocID:     docID,
		RequestID: requestID,
		Type:      FinishedReplay,
	}
}

// InteractiveFinished builds the terminal event of a live execution.
func InteractiveFinished(ctxID NotebookContextID, docID DocID, chunkID ChunkID) ChunkOutputFinishedEvent {
	return ChunkOutputFinishedEvent{
		ContextID: ctxID,
		DocID:     docID,
		ChunkID:   chunkID,
		Type:      FinishedInteractive,
	}
}

// ActiveConsoleChange reports that the user focused a different console.
type ActiveConsoleChange struct {
	ConsoleID   ConsoleID
	PendingText string
}

// ChunkExecCompleted reports that the engine finished executing a chunk.
type ChunkExecCompleted struct {
	DocID     DocID
	ChunkID   ChunkID
	ContextID NotebookContextID
}
