package ledger

import "fmt"

// SystemProgramID owns plain balance-holding accounts.
var SystemProgramID = NamedAddress("system")

type systemOp struct {
	Op     string `msgpack:"op"`
	Amount uint64 `msgpack:"amount"`
}

// TransferInstruction moves amount from a system account that signs the
// batch to any account.
func TransferInstruction(from, to Address, amount uint64) Instruction {
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{Signer(from, true), Writable(to)},
		Data:      EncodeData(systemOp{Op: "transfer", Amount: amount}),
	}
}

// System is the built-in program behind SystemProgramID.
type System struct{}

// Execute implements Program.
func (System) Execute(env Env, ix Instruction) (*CrankResponse, error) {
	var op systemOp
	if err := DecodeData(ix.Data, &op); err != nil {
		return nil, err
	}
	switch op.Op {
	case "transfer":
		if len(ix.Accounts) < 2 {
			return nil, fmt.Errorf("%w: transfer needs 2 accounts", ErrInvalidData)
		}
		return nil, env.Transfer(ix.Accounts[0].Address, ix.Accounts[1].Address, op.Amount)
	default:
		return nil, fmt.Errorf("%w: unknown system op %q", ErrInvalidData, op.Op)
	}
}
