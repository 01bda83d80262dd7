package schema

// RefreshChunkOutputRequest asks for cached output of a reopened document.
type RefreshChunkOutputRequest struct {
	DocPath           string
	DocID             DocID
	NotebookContextID NotebookContextID
	RequestID         RequestID
}

// RefreshChunkOutputResponse reports whether a replay was scheduled.
type RefreshChunkOutputResponse struct {
	ContextID NotebookContextID `json:"nb_ctx_id"`
	Chunks    int               `json:"chunks"`
	Scheduled bool              `json:"scheduled"`
}

// SetChunkConsoleRequest prepares a chunk console for execution.
type SetChunkConsoleRequest struct {
	DocID      DocID
	ChunkID    ChunkID
	ExecMode   ExecMode
	Options    string
	PixelWidth int
	CharWidth  int
	Replace    bool
}

// SetChunkConsoleResponse carries the evaluated chunk options.
type SetChunkConsoleResponse struct {
	Options ChunkOptions
}

// ConsoleInputRequest carries text typed into a console.
type ConsoleInputRequest struct {
	ConsoleID ConsoleID
	Text      string
}

// ConsoleInputResponse reports whether the input reached the engine.
type ConsoleInputResponse struct {
	Forwarded bool `json:"forwarded"`
}

// ConsoleOutputRequest carries output the engine produced on a console.
type ConsoleOutputRequest struct {
	ConsoleID ConsoleID
	Output    ChunkOutput
}

// ConsoleOutputResponse reports whether the output was routed to a chunk.
type ConsoleOutputResponse struct {
	Routed bool `json:"routed"`
}

// CoordinatorState is a point-in-time view of the coordinator slots.
type CoordinatorState struct {
	ContextID     NotebookContextID `json:"nb_ctx_id"`
	ActiveConsole ConsoleID         `json:"active_console"`
	DocID         DocID             `json:"doc_id,omitempty"`
	ChunkID       ChunkID           `json:"chunk_id,omitempty"`
	Connection    ConnectionState   `json:"connection"`
	ExecMode      ExecMode          `json:"exec_mode"`
	PixelWidth    int               `json:"pixel_width,omitempty"`
	CharWidth     int               `json:"char_width,omitempty"`
}

// ExecAttach describes a chunk whose console is being attached to the engine.
type ExecAttach struct {
	ContextID  NotebookContextID
	DocID      DocID
	ChunkID    ChunkID
	Options    ChunkOptions
	PixelWidth int
	CharWidth  int
	Replace    bool
}

// ExecInput is console text forwarded to the engine for the attached chunk.
type ExecInput struct {
	DocID   DocID
	ChunkID ChunkID
	Text    string
}
