package rpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/crank/ledger"
)

var (
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("rpc: client closed")
	// ErrDisconnected is returned to requests in flight when the
	// connection drops.
	ErrDisconnected = errors.New("rpc: connection lost")
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("rpc: unauthorized")
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeRejected       = 422
	ErrCodeInternal       = 500
)

// ErrorDetail describes a failed request. Kinds names every ledger
// sentinel the server-side error matched, so errors.Is keeps working on
// the client.
type ErrorDetail struct {
	Code    int      `msgpack:"code"`
	Kinds   []string `msgpack:"kinds,omitempty"`
	Message string   `msgpack:"message"`
}

// kinds maps wire names to ledger sentinels.
var kinds = []struct {
	name string
	err  error
}{
	{"account_not_found", ledger.ErrAccountNotFound},
	{"account_exists", ledger.ErrAccountExists},
	{"missing_signature", ledger.ErrMissingSignature},
	{"insufficient_funds", ledger.ErrInsufficientFunds},
	{"empty_batch", ledger.ErrEmptyBatch},
	{"batch_too_large", ledger.ErrBatchTooLarge},
	{"batch_failed", ledger.ErrBatchFailed},
	{"invalid_signature", ledger.ErrInvalidSignature},
	{"invalid_data", ledger.ErrInvalidData},
	{"program_not_found", ledger.ErrProgramNotFound},
}

// detailFor converts a backend error into its wire form.
func detailFor(err error) *ErrorDetail {
	d := &ErrorDetail{Code: ErrCodeInternal, Message: err.Error()}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			d.Kinds = append(d.Kinds, k.name)
		}
	}
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		d.Code = ErrCodeNotFound
	case len(d.Kinds) > 0:
		d.Code = ErrCodeRejected
	}
	return d
}

// RemoteError is a request failure reported by the server.
type RemoteError struct {
	Code    int
	Kinds   []string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

// Unwrap returns the ledger sentinels the server-side error matched.
func (e *RemoteError) Unwrap() []error {
	var out []error
	for _, name := range e.Kinds {
		for _, k := range kinds {
			if k.name == name {
				out = append(out, k.err)
			}
		}
	}
	if e.Code == ErrCodeUnauthorized {
		out = append(out, ErrUnauthorized)
	}
	return out
}

func remoteError(d *ErrorDetail) error {
	if d == nil {
		return &RemoteError{Code: ErrCodeInternal, Message: "unknown error"}
	}
	return &RemoteError{Code: d.Code, Kinds: d.Kinds, Message: strings.TrimSpace(d.Message)}
}
