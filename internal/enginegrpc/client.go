package enginegrpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/nbexec/schema"
)

// Client is the engine side of the bridge.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to an engine bridge at addr, which is host:port or
// unix:///path. Extra options are appended after the defaults.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	network, address, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	target := address
	if network == "unix" {
		dialer := func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", addr)
		}
		dialOpts = append(dialOpts, grpc.WithContextDialer(dialer))
		target = "passthrough:///" + address
	}
	dialOpts = append(dialOpts, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// DirectiveStream yields directives sent by the coordinator.
type DirectiveStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next directive.
func (s *DirectiveStream) Recv() (Directive, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return Directive{}, err
	}
	return fromPBDirective(msg), nil
}

// Directives registers this engine and opens the directive stream.
func (c *Client) Directives(ctx context.Context, engine string) (*DirectiveStream, error) {
	if c.conn == nil {
		return nil, errors.New("engine client not initialized")
	}
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodDirectives)
	if err != nil {
		return nil, err
	}
	hello, err := structpb.NewStruct(map[string]any{"engine": engine})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(hello); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &DirectiveStream{stream: stream}, nil
}

// ChunkCompleted reports that the engine finished executing a chunk.
func (c *Client) ChunkCompleted(ctx context.Context, done schema.ChunkExecCompleted) error {
	if c.conn == nil {
		return errors.New("engine client not initialized")
	}
	req, err := toPBCompleted(done)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, methodChunkCompleted, req, new(emptypb.Empty))
}

// ConsoleOutput sends output produced on a console and reports whether the
// coordinator routed it to a chunk.
func (c *Client) ConsoleOutput(ctx context.Context, req schema.ConsoleOutputRequest) (bool, error) {
	if c.conn == nil {
		return false, errors.New("engine client not initialized")
	}
	msg, err := toPBOutput(req)
	if err != nil {
		return false, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodConsoleOutput, msg, resp); err != nil {
		return false, err
	}
	return resp.GetFields()["routed"].GetBoolValue(), nil
}

// Ping checks that the coordinator is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Sessions(ctx)
	return err
}

// Sessions reports how many engines currently hold a directive stream.
func (c *Client) Sessions(ctx context.Context) (int, error) {
	if c.conn == nil {
		return 0, errors.New("engine client not initialized")
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodPing, &emptypb.Empty{}, resp); err != nil {
		return 0, err
	}
	return int(resp.GetFields()["sessions"].GetNumberValue()), nil
}
