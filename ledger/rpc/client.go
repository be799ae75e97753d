package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/crank/backoff"
	"github.com/xraph/crank/ledger"
)

// Compile-time interface checks.
var (
	_ ledger.Client   = (*Client)(nil)
	_ ledger.Scanner  = (*Client)(nil)
	_ ledger.Notifier = (*Client)(nil)
)

// lostFrame is delivered to requests in flight when the connection drops.
var lostFrame = &Frame{Type: FrameErr}

// Client talks to a ledger Server.
type Client struct {
	url            string
	token          string
	requestTimeout time.Duration
	logger         *slog.Logger

	// Reconnection.
	reconnect   backoff.Strategy
	maxRetries  int
	onReconnect func()

	// Connection state.
	mu        sync.Mutex // guards conn and writes
	conn      net.Conn
	closed    atomic.Bool
	closeCh   chan struct{}
	sessionID atomic.Value // string

	// Request-response correlation.
	pending sync.Map // frameID → chan *Frame

	// Subscriptions.
	subMu  sync.Mutex
	subs   map[uint64]func(ledger.Event)
	nextID uint64
	events chan ledger.Event
}

// Dial connects to a ledger server and authenticates.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:            url,
		requestTimeout: 10 * time.Second,
		logger:         slog.Default(),
		closeCh:        make(chan struct{}),
		subs:           make(map[uint64]func(ledger.Event)),
		events:         make(chan ledger.Event, 1024),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("crank/rpc: dial: %w", err)
	}

	go c.readLoop(conn)
	go c.deliverEvents()
	return c, nil
}

// connect establishes the WebSocket connection and authenticates. It
// reads the auth response directly since no read loop runs yet.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	conn, br, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if br != nil {
		ws.PutReader(br)
	}

	auth, err := NewRequestFrame(MethodAuth, AuthRequest{Token: c.token})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := writeFrame(conn, auth); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write auth frame: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(c.requestTimeout))
	}
	data, _, err := wsutil.ReadServerData(conn)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	resp, err := Decode(data)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode auth response: %w", err)
	}
	if resp.Type == FrameErr {
		_ = conn.Close()
		return nil, remoteError(resp.Error)
	}

	var authResp AuthResponse
	if err := resp.DecodeData(&authResp); err != nil {
		c.logger.Warn("rpc client: invalid auth response", slog.String("error", err.Error()))
	}
	c.sessionID.Store(authResp.SessionID)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("rpc client connected", slog.String("session_id", authResp.SessionID))
	return conn, nil
}

// readLoop reads frames from conn and routes them.
func (c *Client) readLoop(conn net.Conn) {
	for {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			c.failPending()
			if c.closed.Load() {
				return
			}
			c.logger.Warn("rpc client read error", slog.String("error", err.Error()))
			if c.reconnect != nil {
				c.tryReconnect()
			}
			return
		}

		frame, err := Decode(data)
		if err != nil {
			c.logger.Warn("rpc client: invalid frame", slog.String("error", err.Error()))
			continue
		}

		switch frame.Type {
		case FrameResponse, FrameErr:
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *Frame) //nolint:errcheck // pending map always stores chan *Frame
				select {
				case ch <- frame:
				default:
				}
			}
		case FrameEvent:
			var ev ledger.Event
			if err := frame.DecodeData(&ev); err != nil {
				c.logger.Warn("rpc client: invalid event", slog.String("error", err.Error()))
				continue
			}
			select {
			case c.events <- ev:
			default:
				c.logger.Warn("rpc client: event dropped, subscribers too slow")
			}
		}
	}
}

// failPending releases every request waiting on the dropped connection.
func (c *Client) failPending() {
	c.pending.Range(func(_, val any) bool {
		ch := val.(chan *Frame) //nolint:errcheck // pending map always stores chan *Frame
		select {
		case ch <- lostFrame:
		default:
		}
		return true
	})
}

// tryReconnect redials with the configured backoff until it succeeds,
// the retries run out, or the client is closed.
func (c *Client) tryReconnect() {
	for attempt := 1; c.maxRetries == 0 || attempt <= c.maxRetries; attempt++ {
		delay := c.reconnect.Delay(attempt)
		c.logger.Info("rpc client reconnecting",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if !backoff.Sleep(c.closeCh, delay) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		conn, err := c.connect(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("rpc client reconnect failed", slog.String("error", err.Error()))
			continue
		}
		if c.closed.Load() {
			_ = conn.Close()
			return
		}

		go c.readLoop(conn)
		if c.hasSubscribers() {
			c.sendSubscribe()
		}
		c.logger.Info("rpc client reconnected")
		if c.onReconnect != nil {
			c.onReconnect()
		}
		return
	}
	c.logger.Error("rpc client: max reconnection attempts reached")
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data, out any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	frame, err := NewRequestFrame(method, data)
	if err != nil {
		return fmt.Errorf("crank/rpc: marshal %s: %w", method, err)
	}

	respCh := make(chan *Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	c.mu.Lock()
	err = writeFrame(c.conn, frame)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("crank/rpc: %s: %w", method, errors.Join(ErrDisconnected, err))
	}

	select {
	case resp := <-respCh:
		if resp == lostFrame {
			return fmt.Errorf("crank/rpc: %s: %w", method, ErrDisconnected)
		}
		if resp.Type == FrameErr {
			return remoteError(resp.Error)
		}
		if out != nil {
			if err := resp.DecodeData(out); err != nil {
				return fmt.Errorf("crank/rpc: decode %s response: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	}
}

// writeFrame encodes and sends a frame as one masked binary message.
func writeFrame(conn net.Conn, f *Frame) error {
	data, err := Encode(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return wsutil.WriteClientBinary(conn, data)
}

// ──────────────────────────────────────────────────
// ledger.Client
// ──────────────────────────────────────────────────

// Account implements ledger.Reader.
func (c *Client) Account(ctx context.Context, addr ledger.Address) (*ledger.Account, error) {
	var acc ledger.Account
	if err := c.request(ctx, MethodAccountGet, AccountRequest{Address: addr}, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// Accounts implements ledger.Reader.
func (c *Client) Accounts(ctx context.Context, addrs []ledger.Address) ([]*ledger.Account, error) {
	var resp AccountsResponse
	if err := c.request(ctx, MethodAccountGetMany, AccountsRequest{Addresses: addrs}, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// Clock implements ledger.Reader.
func (c *Client) Clock(ctx context.Context) (ledger.Clock, error) {
	var clock ledger.Clock
	err := c.request(ctx, MethodClockGet, nil, &clock)
	return clock, err
}

// ProgramAccounts implements ledger.Scanner.
func (c *Client) ProgramAccounts(ctx context.Context, owner ledger.Address) ([]ledger.KeyedAccount, error) {
	var resp OwnerResponse
	if err := c.request(ctx, MethodAccountsByOwner, OwnerRequest{Owner: owner}, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// Simulate implements ledger.Simulator.
func (c *Client) Simulate(ctx context.Context, b *ledger.Batch, watch ...ledger.Address) (*ledger.Simulation, error) {
	var sim ledger.Simulation
	if err := c.request(ctx, MethodBatchSimulate, SimulateRequest{Batch: b, Watch: watch}, &sim); err != nil {
		return nil, err
	}
	return &sim, nil
}

// Submit implements ledger.Submitter.
func (c *Client) Submit(ctx context.Context, b *ledger.Batch) (ledger.Signature, error) {
	var resp SubmitResponse
	if err := c.request(ctx, MethodBatchSubmit, SubmitRequest{Batch: b}, &resp); err != nil {
		return ledger.Signature{}, err
	}
	return resp.Signature, nil
}

// ──────────────────────────────────────────────────
// ledger.Notifier
// ──────────────────────────────────────────────────

// Subscribe implements ledger.Notifier. The first subscriber subscribes
// the connection to ledger events; fn runs on a single delivery goroutine.
func (c *Client) Subscribe(fn func(ledger.Event)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	first := len(c.subs) == 1
	c.subMu.Unlock()

	if first {
		c.sendSubscribe()
	}

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		last := len(c.subs) == 0
		c.subMu.Unlock()
		if last && !c.closed.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
			defer cancel()
			if err := c.request(ctx, MethodUnsubscribe, nil, nil); err != nil {
				c.logger.Debug("rpc client: unsubscribe failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Client) sendSubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()
	if err := c.request(ctx, MethodSubscribe, SubscribeRequest{Channel: ChannelLedger}, nil); err != nil {
		c.logger.Warn("rpc client: subscribe failed", slog.String("error", err.Error()))
	}
}

func (c *Client) hasSubscribers() bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subs) > 0
}

// deliverEvents fans events out to subscribers in arrival order.
func (c *Client) deliverEvents() {
	for {
		select {
		case ev := <-c.events:
			c.subMu.Lock()
			fns := make([]func(ledger.Event), 0, len(c.subs))
			for _, fn := range c.subs {
				fns = append(fns, fn)
			}
			c.subMu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		case <-c.closeCh:
			return
		}
	}
}

// SessionID returns the session ID assigned by the server.
func (c *Client) SessionID() string {
	s, _ := c.sessionID.Load().(string) //nolint:errcheck // always a string once connected
	return s
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	close(c.closeCh)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
