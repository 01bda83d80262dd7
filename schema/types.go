package schema

// NotebookContextID partitions cached chunk output by user and session.
type NotebookContextID string

// DocID identifies an open source document.
type DocID string

// ChunkID identifies a code chunk within a document.
type ChunkID string

// ConsoleID identifies a console receiving user keystrokes. Chunk consoles
// share their identifier with the chunk they execute.
type ConsoleID string

// RequestID correlates replayed output with the refresh call that caused it.
type RequestID string

// ExecMode describes how the client is executing a chunk.
type ExecMode int

const (
	// ExecModeSingle executes one chunk on demand.
	ExecModeSingle ExecMode = 0
	// ExecModeBatch executes chunks as part of a run-all pass.
	ExecModeBatch ExecMode = 1
)

// Valid reports whether the mode is one the client can send.
func (m ExecMode) Valid() bool {
	return m == ExecModeSingle || m == ExecModeBatch
}

func (m ExecMode) String() string {
	switch m {
	case ExecModeSingle:
		return "single"
	case ExecModeBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// ConnectionState is the attachment state of an execution context.
type ConnectionState string

const (
	// ConnectionNone means no execution context exists.
	ConnectionNone ConnectionState = ""
	// ConnectionDisconnected means the context exists but is not attached.
	ConnectionDisconnected ConnectionState = "disconnected"
	// ConnectionConnected means console input is forwarded to the engine.
	ConnectionConnected ConnectionState = "connected"
)

// ChunkOptions is the evaluated option set for a chunk.
type ChunkOptions map[string]any

// EvalEnabled reports whether the options allow evaluation. Only an explicit
// boolean false disables it.
func (o ChunkOptions) EvalEnabled() bool {
	if o == nil {
		return true
	}
	value, ok := o["eval"]
	if !ok {
		return true
	}
	enabled, ok := value.(bool)
	if !ok {
		return true
	}
	return enabled
}

// Identity names the user and session that own a notebook context.
type Identity struct {
	User    string
	Session string
}
