package enginegrpc

import (
	"context"
	"errors"
	"io"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

// EchoEngine is a minimal engine that echoes console input back as chunk
// output and completes the chunk after every input line.
type EchoEngine struct {
	client   *Client
	name     string
	logger   pslog.Logger
	attached map[schema.ChunkID]Directive
}

// NewEchoEngine wraps a connected client.
func NewEchoEngine(client *Client, name string, logger pslog.Logger) *EchoEngine {
	if name == "" {
		name = "echo"
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &EchoEngine{
		client:   client,
		name:     name,
		logger:   logger.With("engine", name),
		attached: make(map[schema.ChunkID]Directive),
	}
}

// Run consumes directives until ctx is canceled or the stream ends.
func (e *EchoEngine) Run(ctx context.Context) error {
	stream, err := e.client.Directives(ctx, e.name)
	if err != nil {
		return err
	}
	e.logger.Info("echo engine connected")
	for {
		d, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		if err := e.handle(ctx, d); err != nil {
			e.logger.Warn("echo engine directive failed", "type", string(d.Type), "chunk", string(d.ChunkID), "err", err)
		}
	}
}

func (e *EchoEngine) handle(ctx context.Context, d Directive) error {
	switch d.Type {
	case DirectiveAttach:
		e.attached[d.ChunkID] = d
		e.logger.Debug("echo engine attached", "doc", string(d.DocID), "chunk", string(d.ChunkID))
		return nil
	case DirectiveDetach:
		delete(e.attached, d.ChunkID)
		e.logger.Debug("echo engine detached", "chunk", string(d.ChunkID))
		return nil
	case DirectiveInput:
		return e.echo(ctx, d)
	default:
		e.logger.Debug("echo engine ignored directive", "type", string(d.Type))
		return nil
	}
}

func (e *EchoEngine) echo(ctx context.Context, d Directive) error {
	attach, ok := e.attached[d.ChunkID]
	if !ok {
		return errors.New("input for unattached chunk")
	}
	text := strings.TrimRight(d.Text, "\n")
	if text != "" {
		if _, err := e.client.ConsoleOutput(ctx, schema.ConsoleOutputRequest{
			ConsoleID: schema.ConsoleID(d.ChunkID),
			Output:    schema.ChunkOutput{Type: schema.OutputText, Text: text + "\n"},
		}); err != nil {
			return err
		}
	}
	return e.client.ChunkCompleted(ctx, schema.ChunkExecCompleted{
		ContextID: attach.ContextID,
		DocID:     d.DocID,
		ChunkID:   d.ChunkID,
	})
}
