package rpc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/crank/ledger"
)

// Server exposes a Backend to WebSocket clients. It implements
// http.Handler.
type Server struct {
	backend     Backend
	notifier    ledger.Notifier
	handler     *Handler
	conns       *ConnectionManager
	token       string
	eventBuffer int
	logger      *slog.Logger
}

// NewServer creates a server for backend. Subscriptions are available
// when backend also implements ledger.Notifier.
func NewServer(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:     backend,
		conns:       NewConnectionManager(),
		eventBuffer: 256,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if n, ok := backend.(ledger.Notifier); ok {
		s.notifier = n
	}
	s.handler = NewHandler(backend, s.logger)
	return s
}

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// ServeHTTP upgrades the request and serves the connection until it
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("rpc: upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := NewConnection("conn-"+NextFrameID(), conn, s.eventBuffer)
	defer conn.Close()

	if err := s.serve(r.Context(), c); err != nil {
		s.logger.Debug("rpc: connection ended",
			slog.String("conn_id", c.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) serve(ctx context.Context, c *Connection) error {
	if err := s.authenticate(c); err != nil {
		return err
	}

	s.conns.Add(c)
	defer func() {
		c.unsubscribe()
		close(c.done)
		s.conns.Remove(c.ID)
		s.logger.Info("rpc client disconnected", slog.String("conn_id", c.ID))
	}()
	s.logger.Info("rpc client connected", slog.String("conn_id", c.ID))

	go s.forwardEvents(c)

	// Frame processing loop.
	for {
		data, _, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return nil // Connection closed.
		}
		c.Touch()

		frame, decErr := Decode(data)
		if decErr != nil {
			s.write(c, NewErrorFrame("", &ErrorDetail{Code: ErrCodeBadRequest, Message: "invalid frame: " + decErr.Error()}))
			continue
		}

		switch frame.Method {
		case MethodSubscribe:
			s.write(c, s.subscribe(c, frame))
		case MethodUnsubscribe:
			c.unsubscribe()
			s.write(c, mustResponseFrame(frame.ID, nil))
		default:
			s.write(c, s.handler.Handle(ctx, frame))
		}
	}
}

// authenticate reads the auth frame and confirms the session.
func (s *Server) authenticate(c *Connection) error {
	data, _, err := wsutil.ReadClientData(c.conn)
	if err != nil {
		return fmt.Errorf("rpc: read auth frame: %w", err)
	}
	frame, err := Decode(data)
	if err != nil {
		s.write(c, NewErrorFrame("", &ErrorDetail{Code: ErrCodeBadRequest, Message: "invalid auth frame"}))
		return fmt.Errorf("rpc: decode auth frame: %w", err)
	}
	if frame.Method != MethodAuth {
		s.write(c, NewErrorFrame(frame.ID, &ErrorDetail{Code: ErrCodeBadRequest, Message: "first frame must be auth"}))
		return fmt.Errorf("rpc: expected auth frame, got %q", frame.Method)
	}

	var req AuthRequest
	if err := frame.DecodeData(&req); err != nil {
		s.write(c, NewErrorFrame(frame.ID, &ErrorDetail{Code: ErrCodeBadRequest, Message: "invalid auth data"}))
		return err
	}
	if s.token != "" && subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.token)) != 1 {
		s.write(c, NewErrorFrame(frame.ID, &ErrorDetail{Code: ErrCodeUnauthorized, Message: "authentication failed"}))
		return ErrUnauthorized
	}

	if err := c.write(mustResponseFrame(frame.ID, AuthResponse{SessionID: c.ID})); err != nil {
		return fmt.Errorf("rpc: write auth response: %w", err)
	}
	return nil
}

func (s *Server) subscribe(c *Connection, frame *Frame) *Frame {
	var req SubscribeRequest
	if err := frame.DecodeData(&req); err != nil {
		return badRequest(frame.ID, err)
	}
	if req.Channel != ChannelLedger {
		return NewErrorFrame(frame.ID, &ErrorDetail{Code: ErrCodeNotFound, Message: "unknown channel: " + req.Channel})
	}
	if s.notifier == nil {
		return NewErrorFrame(frame.ID, &ErrorDetail{Code: ErrCodeMethodNotFound, Message: "ledger does not publish events"})
	}

	// Subscribe before recording so a concurrent unsubscribe cannot leak
	// the notifier callback.
	cancel := s.notifier.Subscribe(func(ev ledger.Event) {
		f, err := NewEventFrame(ChannelLedger, ev)
		if err != nil {
			return
		}
		if !c.enqueue(f) {
			s.logger.Warn("rpc: subscriber too slow, event dropped",
				slog.String("conn_id", c.ID),
				slog.String("kind", string(ev.Kind)),
			)
		}
	})
	if !c.subscribe(cancel) {
		cancel()
	}
	return mustResponseFrame(frame.ID, nil)
}

// forwardEvents writes queued event frames until the connection ends.
func (s *Server) forwardEvents(c *Connection) {
	for {
		select {
		case f := <-c.events:
			if err := c.write(f); err != nil {
				return // Connection gone.
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) write(c *Connection, f *Frame) {
	if err := c.write(f); err != nil {
		s.logger.Warn("rpc: failed to write frame",
			slog.String("conn_id", c.ID),
			slog.String("error", err.Error()),
		)
	}
}

// CloseConnections drops every active connection. Clients configured to
// reconnect will dial again.
func (s *Server) CloseConnections() {
	for _, c := range s.conns.All() {
		_ = c.conn.Close()
	}
}
