package rpcfeed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startTestServer(t *testing.T, onEvent func(*structpb.Struct)) (*grpc.ClientConn, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	grpcServer := grpc.NewServer()
	Register(grpcServer, NewServer(onEvent, nil))
	go func() { _ = grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return conn, func() {
		_ = conn.Close()
		grpcServer.Stop()
	}
}

func TestPushDeliversEventsToServer(t *testing.T) {
	received := make(chan *structpb.Struct, 4)
	conn, cleanup := startTestServer(t, func(s *structpb.Struct) { received <- s })
	defer cleanup()

	client := &Client{cc: conn}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.OpenPush(ctx)
	require.NoError(t, err)

	payload, err := structpb.NewStruct(map[string]any{"height": 42.0, "producer": "p1"})
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(payload))
	require.NoError(t, stream.CloseSend())

	select {
	case got := <-received:
		require.Equal(t, "p1", got.Fields["producer"].GetStringValue())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed event")
	}
}
