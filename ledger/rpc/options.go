package rpc

import (
	"log/slog"
	"time"

	"github.com/xraph/crank/backoff"
)

// Option configures a Server.
type Option func(*Server)

// WithToken requires clients to authenticate with token. An empty token
// accepts every client.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithEventBuffer sets how many events are queued per slow subscriber
// before new ones are dropped. Default is 256.
func WithEventBuffer(n int) Option {
	return func(s *Server) { s.eventBuffer = n }
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientToken sets the authentication token.
func WithClientToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRequestTimeout bounds every request that has no earlier deadline.
// Default is 10s.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// WithReconnect enables automatic reconnection. maxRetries of zero
// retries until Close.
func WithReconnect(strategy backoff.Strategy, maxRetries int) ClientOption {
	return func(c *Client) {
		c.reconnect = strategy
		c.maxRetries = maxRetries
	}
}

// WithReconnectHook registers fn to run after every successful reconnect.
// Events published while disconnected are lost, so callers resync here.
func WithReconnectHook(fn func()) ClientOption {
	return func(c *Client) { c.onReconnect = fn }
}
