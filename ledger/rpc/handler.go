package rpc

import (
	"context"
	"log/slog"

	"github.com/xraph/crank/ledger"
)

// Backend is the ledger a Server exposes.
type Backend interface {
	ledger.Client
	ledger.Scanner
}

// Handler dispatches request frames to the backend.
type Handler struct {
	backend Backend
	logger  *slog.Logger
}

// NewHandler creates a method handler for backend.
func NewHandler(backend Backend, logger *slog.Logger) *Handler {
	return &Handler{backend: backend, logger: logger}
}

// Handle processes a single request frame and returns its response.
// Subscription methods are handled by the Server.
func (h *Handler) Handle(ctx context.Context, frame *Frame) *Frame {
	switch frame.Method {
	case MethodAccountGet:
		return h.handleAccountGet(ctx, frame)
	case MethodAccountGetMany:
		return h.handleAccountGetMany(ctx, frame)
	case MethodAccountsByOwner:
		return h.handleAccountsByOwner(ctx, frame)
	case MethodClockGet:
		return h.handleClockGet(ctx, frame)
	case MethodBatchSimulate:
		return h.handleBatchSimulate(ctx, frame)
	case MethodBatchSubmit:
		return h.handleBatchSubmit(ctx, frame)
	default:
		return NewErrorFrame(frame.ID, &ErrorDetail{
			Code:    ErrCodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, &ErrorDetail{Code: ErrCodeInternal, Message: "marshal response: " + err.Error()})
	}
	return resp
}

func badRequest(frameID string, err error) *Frame {
	return NewErrorFrame(frameID, &ErrorDetail{Code: ErrCodeBadRequest, Message: "invalid request: " + err.Error()})
}

func (h *Handler) handleAccountGet(ctx context.Context, frame *Frame) *Frame {
	var req AccountRequest
	if err := frame.DecodeData(&req); err != nil {
		return badRequest(frame.ID, err)
	}
	acc, err := h.backend.Account(ctx, req.Address)
	if err != nil {
		return NewErrorFrame(frame.ID, detailFor(err))
	}
	return mustResponseFrame(frame.ID, acc)
}

func (h *Handler) handleAccountGetMany(ctx context.Context, frame *Frame) *Frame {
	var req AccountsRequest
	if err := frame.DecodeData(&req); err != nil {
		return badRequest(frame.ID, err)
	}
	accs, err := h.backend.Accounts(ctx, req.Addresses)
	if err != nil {
		return NewErrorFrame(frame.ID, detailFor(err))
	}
	return mustResponseFrame(frame.ID, AccountsResponse{Accounts: accs})
}

func (h *Handler) handleAccountsByOwner(ctx context.Context, frame *Frame) *Frame {
	var req OwnerRequest
	if err := frame.DecodeData(&req); err != nil {
		return badRequest(frame.ID, err)
	}
	accs, err := h.backend.ProgramAccounts(ctx, req.Owner)
	if err != nil {
		return NewErrorFrame(frame.ID, detailFor(err))
	}
	return mustResponseFrame(frame.ID, OwnerResponse{Accounts: accs})
}

func (h *Handler) handleClockGet(ctx context.Context, frame *Frame) *Frame {
	clock, err := h.backend.Clock(ctx)
	if err != nil {
		return NewErrorFrame(frame.ID, detailFor(err))
	}
	return mustResponseFrame(frame.ID, clock)
}

func (h *Handler) handleBatchSimulate(ctx context.Context, frame *Frame) *Frame {
	var req SimulateRequest
	if err := frame.DecodeData(&req); err != nil {
		return badRequest(frame.ID, err)
	}
	sim, err := h.backend.Simulate(ctx, req.Batch, req.Watch...)
	if err != nil {
		return NewErrorFrame(frame.ID, detailFor(err))
	}
	return mustResponseFrame(frame.ID, sim)
}

func (h *Handler) handleBatchSubmit(ctx context.Context, frame *Frame) *Frame {
	var req SubmitRequest
	if err := frame.DecodeData(&req); err != nil {
		return badRequest(frame.ID, err)
	}
	sig, err := h.backend.Submit(ctx, req.Batch)
	if err != nil {
		h.logger.Debug("rpc: batch rejected", slog.String("error", err.Error()))
		return NewErrorFrame(frame.ID, detailFor(err))
	}
	return mustResponseFrame(frame.ID, SubmitResponse{Signature: sig})
}
