package rpc

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/crank/ledger"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
)

// Frame is the envelope of every message on the wire.
type Frame struct {
	ID        string             `msgpack:"id"`
	Type      FrameType          `msgpack:"type"`
	Method    string             `msgpack:"method,omitempty"`
	CorrelID  string             `msgpack:"correl_id,omitempty"`
	Data      msgpack.RawMessage `msgpack:"data,omitempty"`
	Error     *ErrorDetail       `msgpack:"error,omitempty"`
	Channel   string             `msgpack:"channel,omitempty"`
	Timestamp time.Time          `msgpack:"ts"`
}

// ── Well-known methods ──────────────────────────────

const (
	MethodAuth            = "auth"
	MethodAccountGet      = "account.get"
	MethodAccountGetMany  = "account.get_many"
	MethodAccountsByOwner = "account.by_owner"
	MethodClockGet        = "clock.get"
	MethodBatchSimulate   = "batch.simulate"
	MethodBatchSubmit     = "batch.submit"
	MethodSubscribe       = "subscribe"
	MethodUnsubscribe     = "unsubscribe"
)

// ChannelLedger carries every ledger.Event.
const ChannelLedger = "ledger"

// ── Request/Response payloads ───────────────────────

// AuthRequest is the first frame a client sends.
type AuthRequest struct {
	Token string `msgpack:"token"`
}

// AuthResponse confirms the session.
type AuthResponse struct {
	SessionID string `msgpack:"session_id"`
}

// AccountRequest fetches one account.
type AccountRequest struct {
	Address ledger.Address `msgpack:"address"`
}

// AccountsRequest fetches several accounts in order.
type AccountsRequest struct {
	Addresses []ledger.Address `msgpack:"addresses"`
}

// AccountsResponse holds one entry per requested address, nil where
// nothing exists.
type AccountsResponse struct {
	Accounts []*ledger.Account `msgpack:"accounts"`
}

// OwnerRequest lists every account owned by a program.
type OwnerRequest struct {
	Owner ledger.Address `msgpack:"owner"`
}

// OwnerResponse is the reply to OwnerRequest.
type OwnerResponse struct {
	Accounts []ledger.KeyedAccount `msgpack:"accounts"`
}

// SimulateRequest dry-runs a batch.
type SimulateRequest struct {
	Batch *ledger.Batch    `msgpack:"batch"`
	Watch []ledger.Address `msgpack:"watch,omitempty"`
}

// SubmitRequest executes a batch.
type SubmitRequest struct {
	Batch *ledger.Batch `msgpack:"batch"`
}

// SubmitResponse carries the signature of a committed batch.
type SubmitResponse struct {
	Signature ledger.Signature `msgpack:"signature"`
}

// SubscribeRequest subscribes the connection to a channel.
type SubscribeRequest struct {
	Channel string `msgpack:"channel"`
}

// ── Constructors ────────────────────────────────────

var frameSeq atomic.Uint64

// NextFrameID returns a process-unique frame ID.
func NextFrameID() string {
	return strconv.FormatUint(frameSeq.Add(1), 36)
}

// NewRequestFrame creates a request frame for method.
func NewRequestFrame(method string, data any) (*Frame, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NextFrameID(),
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to the request correlID.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NextFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to the request correlID.
func NewErrorFrame(correlID string, detail *ErrorDetail) *Frame {
	return &Frame{
		ID:        NextFrameID(),
		Type:      FrameErr,
		CorrelID:  correlID,
		Error:     detail,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame on channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        NextFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) { return msgpack.Marshal(f) }

// Decode parses a frame read from the wire.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DecodeData unmarshals the frame payload into v.
func (f *Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return msgpack.Unmarshal(f.Data, v)
}

func encodeData(data any) (msgpack.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return msgpack.Marshal(data)
}
