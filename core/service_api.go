package core

import (
	"context"

	"pkt.systems/nbexec/schema"
)

// AfterResponse is a continuation the transport runs once the RPC response
// has been delivered to the client. A nil AfterResponse means nothing was
// scheduled.
type AfterResponse func()

// Service is the transport-agnostic API of the chunk execution coordinator.
type Service interface {
	NotebookContext(ctx context.Context) schema.NotebookContextID
	RefreshChunkOutput(ctx context.Context, req schema.RefreshChunkOutputRequest) (schema.RefreshChunkOutputResponse, AfterResponse, error)
	SetChunkConsole(ctx context.Context, req schema.SetChunkConsoleRequest) (schema.SetChunkConsoleResponse, error)
	ConsoleInput(ctx context.Context, req schema.ConsoleInputRequest) (schema.ConsoleInputResponse, error)
	ConsoleOutput(ctx context.Context, req schema.ConsoleOutputRequest) (schema.ConsoleOutputResponse, error)
	State(ctx context.Context) (schema.CoordinatorState, error)
}

// Signals accepts the inbound notifications that drive the coordinator.
type Signals interface {
	ActiveConsoleChanged(ctx context.Context, change schema.ActiveConsoleChange)
	ChunkExecCompleted(ctx context.Context, done schema.ChunkExecCompleted)
}
