package enginegrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name of the engine bridge.
const ServiceName = "nbexec.engine.v1.Engine"

const (
	methodDirectives     = "/" + ServiceName + "/Directives"
	methodChunkCompleted = "/" + ServiceName + "/ChunkCompleted"
	methodConsoleOutput  = "/" + ServiceName + "/ConsoleOutput"
	methodPing           = "/" + ServiceName + "/Ping"
)

// engineService is the handler type registered with the gRPC server.
// Messages are well-known protobuf types so no generated code is needed.
type engineService interface {
	directives(hello *structpb.Struct, stream grpc.ServerStream) error
	chunkCompleted(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	consoleOutput(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ping(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*engineService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ChunkCompleted", Handler: chunkCompletedHandler},
		{MethodName: "ConsoleOutput", Handler: consoleOutputHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Directives", Handler: directivesHandler, ServerStreams: true},
	},
	Metadata: "nbexec/engine/v1/engine.proto",
}

func directivesHandler(srv any, stream grpc.ServerStream) error {
	hello := new(structpb.Struct)
	if err := stream.RecvMsg(hello); err != nil {
		return err
	}
	return srv.(engineService).directives(hello, stream)
}

func chunkCompletedHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineService).chunkCompleted(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodChunkCompleted}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineService).chunkCompleted(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func consoleOutputHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineService).consoleOutput(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodConsoleOutput}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineService).consoleOutput(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineService).ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineService).ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
