// Package rpcfeed optionally pushes correlated events to an external
// aggregator over gRPC, adapting the teacher's gRPC server wiring
// (cmd/probe) to a client-streaming push instead of a request/response API.
// Messages are encoded as google.golang.org/protobuf/types/known/structpb
// values so the feed carries arbitrary correlated-event shapes without a
// bespoke .proto schema.
package rpcfeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceName matches what a hand-maintained .proto would declare; kept here
// since no protoc toolchain runs in this build.
const serviceName = "mina.debugger.EventFeed"

// pushMethodName is the client-streaming RPC external aggregators implement
// to receive the feed.
const pushMethodName = "Push"

// ServiceDesc is the grpc.ServiceDesc a generated *_grpc.pb.go file would
// normally produce for a `rpc Push(stream google.protobuf.Struct) returns
// (google.protobuf.Empty)` method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EventFeedServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    pushMethodName,
			Handler:       pushHandler,
			ClientStreams: true,
		},
	},
	Metadata: "internal/rpcfeed/rpcfeed.go",
}

// EventFeedServer is implemented by whatever receives the pushed feed.
type EventFeedServer interface {
	Push(stream PushServer) error
}

// PushServer is the server-side stream handle for one Push call.
type PushServer interface {
	Recv() (*structpb.Struct, error)
	SendAndClose(*emptypb.Empty) error
	grpc.ServerStream
}

type pushServer struct {
	grpc.ServerStream
}

func (p *pushServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := p.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *pushServer) SendAndClose(m *emptypb.Empty) error {
	return p.ServerStream.SendMsg(m)
}

func pushHandler(srv any, stream grpc.ServerStream) error {
	return srv.(EventFeedServer).Push(&pushServer{ServerStream: stream})
}

// Server implements EventFeedServer by forwarding every received event to
// onEvent.
type Server struct {
	onEvent func(*structpb.Struct)
	log     *slog.Logger
}

// NewServer constructs a Server. onEvent is called once per pushed event;
// it must not block.
func NewServer(onEvent func(*structpb.Struct), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{onEvent: onEvent, log: log}
}

func (s *Server) Push(stream PushServer) error {
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			return fmt.Errorf("rpcfeed: recv: %w", err)
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
	}
}

// Register wires the feed server into a *grpc.Server, mirroring the
// generated RegisterEventFeedServer function.
func Register(grpcServer *grpc.Server, srv EventFeedServer) {
	grpcServer.RegisterService(&ServiceDesc, srv)
}

// Client is a thin wrapper pushing events to a remote aggregator.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to target using grpcOpts (typically transport credentials).
func Dial(target string, grpcOpts ...grpc.DialOption) (*Client, error) {
	cc, err := grpc.NewClient(target, grpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("rpcfeed: dial %s: %w", target, err)
	}
	return &Client{cc: cc}, nil
}

// OpenPush starts a client-streaming Push call and returns the stream to
// send events on.
func (c *Client) OpenPush(ctx context.Context) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: pushMethodName, ClientStreams: true}
	return c.cc.NewStream(ctx, desc, "/"+serviceName+"/"+pushMethodName)
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.cc.Close() }
