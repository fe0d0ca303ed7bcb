// Package gateway is the WebSocket transport for the event hub. Each
// connection is registered with the hub, drains its ordered outbound queue,
// and may join rooms or call RPC methods.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/hub"
)

// writeTimeout bounds a single frame write to a client.
const writeTimeout = 5 * time.Second

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	conn      *hub.Conn
	ws        *websocket.Conn
	responses chan Frame
}

// Options tunes the upgrade.
type Options struct {
	OriginPatterns []string // extra allowed Origin host patterns
}

// Server upgrades /ws requests and bridges them to the hub.
type Server struct {
	hub        *hub.Hub
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	origins    []string
	logger     *slog.Logger
}

// NewServer creates a gateway server.
func NewServer(h *hub.Hub, auth Authenticator, opts Options, logger *slog.Logger) *Server {
	origins := append([]string{
		"localhost",
		"localhost:*",
		"127.0.0.1",
		"127.0.0.1:*",
		"[::1]",
		"[::1]:*",
	}, opts.OriginPatterns...)
	return &Server{
		hub:      h,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		origins:  origins,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Shutdown closes every connection. The hub closes each outbound queue,
// which makes the write loops send a close frame.
func (s *Server) Shutdown() {
	s.hub.Close()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &clientConn{
		info:      info,
		conn:      s.hub.Register(info.Remote),
		ws:        ws,
		responses: make(chan Frame, 16),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(cc)
	}()

	s.readLoop(r.Context(), cc)

	s.hub.Unregister(cc.conn.ID())
	<-writerDone
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			var ce websocket.CloseError
			if !errors.As(err, &ce) && ctx.Err() == nil {
				s.logger.Debug("read failed", "conn_id", cc.conn.ID(), "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameTypeEvent:
			s.handleClientEvent(cc, frame)
		case FrameTypeRequest:
			go s.dispatchRPC(ctx, cc, frame)
		default:
			s.sendError(cc, "unsupported frame type: "+string(frame.Type))
		}
	}
}

// writeLoop writes the connected acknowledgement, then hub messages and
// RPC responses as they arrive. It closes the socket when the hub closes
// the connection's queue.
func (s *Server) writeLoop(cc *clientConn) {
	defer cc.ws.Close(websocket.StatusNormalClosure, "")

	out := cc.conn.Outbound()
	// The hub queues the acknowledgement on Register, so it is always first.
	if msg, ok := <-out; !ok || !s.write(cc, eventFrame(msg)) {
		return
	}

	for {
		select {
		case msg, ok := <-out:
			if !ok {
				return
			}
			if !s.write(cc, eventFrame(msg)) {
				return
			}
		case resp := <-cc.responses:
			if !s.write(cc, resp) {
				return
			}
		}
	}
}

func (s *Server) write(cc *clientConn, f Frame) bool {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, cc.ws, f); err != nil {
		s.logger.Debug("write failed", "conn_id", cc.conn.ID(), "error", err)
		return false
	}
	return true
}

func eventFrame(msg hub.Message) Frame {
	return Frame{Type: FrameTypeEvent, Event: msg.Event, Payload: msg.Payload}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.ErrRPCMethodNotFound)
		return
	}

	result, err := handler(ctx, cc.info, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case cc.responses <- resp:
	case <-cc.conn.Done():
	}
}
