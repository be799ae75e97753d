package ledger

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CrankResponse is returned by every instruction a queue invokes. A nil
// NextInstruction ends the chain. A non-nil KickoffInstruction asks the
// queue to replace its own kickoff template.
type CrankResponse struct {
	KickoffInstruction *Instruction `msgpack:"kickoff,omitempty"`
	NextInstruction    *Instruction `msgpack:"next,omitempty"`
}

// Env is the execution environment a program receives for one
// instruction. Every account access is checked against the privileges
// the instruction declared.
type Env interface {
	// ProgramID returns the executing program.
	ProgramID() Address

	// Account returns a copy of the account at addr. It fails with
	// ErrAccountNotListed when the instruction does not list addr and with
	// ErrAccountNotFound when nothing exists there.
	Account(addr Address) (*Account, error)

	// Create allocates a new account owned by the executing program. A
	// system-owned account with no data at addr is adopted, keeping its
	// balance.
	Create(addr Address, data []byte) error

	// SetData replaces the data of an account owned by the executing
	// program.
	SetData(addr Address, data []byte) error

	// Transfer moves balance between listed, writable accounts. The
	// source must be owned by the executing program, or be a system
	// account that signed.
	Transfer(from, to Address, amount uint64) error

	// Close deletes an account owned by the executing program and moves
	// its whole balance to refundTo.
	Close(addr, refundTo Address) error

	// IsSigner reports whether addr signed this instruction, either as a
	// batch signer or as an address the invoking program signed for.
	IsSigner(addr Address) bool

	// Invoke calls another program. The callee may only use accounts this
	// instruction lists, with no more privilege than they have here.
	// signers are program-owned accounts the executing program signs for.
	Invoke(ix Instruction, signers ...Address) (*CrankResponse, error)

	// Now returns the ledger clock.
	Now() time.Time

	// Slot returns the current slot.
	Slot() uint64

	// Logf appends a line to the execution log.
	Logf(format string, args ...any)
}

// Program executes instructions addressed to it.
type Program interface {
	Execute(env Env, ix Instruction) (*CrankResponse, error)
}

// ProgramFunc adapts a plain function to Program.
type ProgramFunc func(env Env, ix Instruction) (*CrankResponse, error)

// Execute implements Program.
func (f ProgramFunc) Execute(env Env, ix Instruction) (*CrankResponse, error) {
	return f(env, ix)
}

// EncodeData serializes an instruction payload.
func EncodeData(v any) []byte {
	data, err := msgpack.Marshal(v)
	if err != nil {
		// Payloads are plain structs; failure is a programming error.
		panic(fmt.Sprintf("ledger: encode instruction data: %v", err))
	}
	return data
}

// DecodeData parses an instruction payload into v.
func DecodeData(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return nil
}
