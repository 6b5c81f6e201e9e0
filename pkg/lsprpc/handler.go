package lsprpc

import (
	"context"
	"fmt"

	"github.com/kralicky/polyls/pkg/bridge"
	"github.com/kralicky/tools-lite/gopls/pkg/protocol"
	"github.com/kralicky/tools-lite/pkg/event"
	"github.com/kralicky/tools-lite/pkg/jsonrpc2"
)

func NewStreamServer() jsonrpc2.StreamServer {
	return &streamServer{}
}

type streamServer struct{}

func (s *streamServer) ServeStream(ctx context.Context, conn jsonrpc2.Conn) error {
	client := protocol.ClientDispatcher(conn)
	server := bridge.NewServer(client)
	handler := protocol.CancelHandler(
		AsyncHandler(
			jsonrpc2.MustReplyHandler(
				BridgeHandler(server))))
	conn.Go(ctx, handler)
	<-conn.Done()
	if err := conn.Err(); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}

// BridgeHandler adapts the bridge server to a jsonrpc2 handler. Unlike a
// conventional language server, the bridge dispatches on the raw method name
// and raw params: translated payloads must round-trip byte-for-byte, and
// methods the bridge does not translate are refused outright.
func BridgeHandler(server *bridge.Server) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		result, err := server.HandleRequest(ctx, req.Method(), req.Params())
		if _, isCall := req.(*jsonrpc2.Call); !isCall && err != nil {
			// nothing to send a notification failure to
			event.Error(ctx, "notification handler failed", err)
			err = nil
		}
		return reply(ctx, result, err)
	}
}

// AsyncHandler starts each request on its own goroutine but releases the
// next request only once the current one has replied, preserving the
// protocol's ordering guarantees while keeping the connection responsive to
// cancellation.
func AsyncHandler(handler jsonrpc2.Handler) jsonrpc2.Handler {
	nextRequest := make(chan struct{})
	close(nextRequest)
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		waitForPrevious := nextRequest
		nextRequest = make(chan struct{})
		unlockNext := nextRequest
		innerReply := reply
		reply = func(ctx context.Context, result interface{}, err error) error {
			close(unlockNext)
			return innerReply(ctx, result, err)
		}
		_, queueDone := event.Start(ctx, "queued")
		go func() {
			<-waitForPrevious
			queueDone()
			if err := handler(ctx, reply, req); err != nil {
				event.Error(ctx, "jsonrpc2 async message delivery failed", err)
			}
		}()
		return nil
	}
}
