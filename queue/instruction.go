package queue

import (
	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/trigger"
)

// OpKind names a queue instruction.
type OpKind string

const (
	OpCreate   OpKind = "create"
	OpKickoff  OpKind = "kickoff"
	OpCrank    OpKind = "crank"
	OpPause    OpKind = "pause"
	OpResume   OpKind = "resume"
	OpStop     OpKind = "stop"
	OpUpdate   OpKind = "update"
	OpDelete   OpKind = "delete"
	OpWithdraw OpKind = "withdraw"
)

// Settings is a sparse patch applied by update. Nil fields are left
// untouched.
type Settings struct {
	Trigger   *trigger.Trigger `msgpack:"trigger,omitempty"`
	RateLimit *uint64          `msgpack:"rate_limit,omitempty"`
}

// Op is the instruction data envelope of the queue program.
type Op struct {
	Kind        OpKind               `msgpack:"op"`
	ID          string               `msgpack:"id,omitempty"`
	Trigger     *trigger.Trigger     `msgpack:"trigger,omitempty"`
	Kickoff     *ledger.Instruction  `msgpack:"kickoff,omitempty"`
	Fingerprint *trigger.Fingerprint `msgpack:"fingerprint,omitempty"`
	Settings    *Settings            `msgpack:"settings,omitempty"`
	Amount      uint64               `msgpack:"amount,omitempty"`
}

// CreateParams describes a new queue.
type CreateParams struct {
	ID      string
	Trigger trigger.Trigger
	Kickoff ledger.Instruction

	// RateLimit caps steps per slot. Zero is unlimited.
	RateLimit uint64

	// Funding is moved from the authority into the queue to pay step
	// fees.
	Funding uint64
}

// CreateInstruction creates a queue owned by authority.
//
// Accounts: authority (signer, writable), queue (writable).
func CreateInstruction(authority ledger.Address, p CreateParams) ledger.Instruction {
	kickoff := p.Kickoff.Clone()
	trig := p.Trigger
	op := Op{Kind: OpCreate, ID: p.ID, Trigger: &trig, Kickoff: &kickoff, Amount: p.Funding}
	if p.RateLimit > 0 {
		rl := p.RateLimit
		op.Settings = &Settings{RateLimit: &rl}
	}
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Signer(authority, true),
			ledger.Writable(Address(authority, p.ID)),
		},
		Data: ledger.EncodeData(op),
	}
}

// KickoffInstruction starts a chain on q. signatory is the worker's
// signing address and replaces the payer placeholder; worker receives the
// step fee. fingerprint is required for account triggers.
//
// Accounts: queue (writable), signatory (signer, writable), worker
// (writable), authority, [watched account], then every account of the
// kickoff template.
func KickoffInstruction(q *Queue, signatory, worker ledger.Address, fingerprint *trigger.Fingerprint) ledger.Instruction {
	accounts := stepAccounts(q, signatory, worker)
	if q.Trigger.Kind == trigger.KindAccount {
		accounts = append(accounts, ledger.Readonly(q.Trigger.Address))
	}
	accounts = appendInner(accounts, q.KickoffInstruction.ResolvePayer(signatory))

	op := Op{Kind: OpKickoff}
	if fingerprint != nil {
		fp := *fingerprint
		op.Fingerprint = &fp
	}
	return ledger.Instruction{ProgramID: ProgramID, Accounts: accounts, Data: ledger.EncodeData(op)}
}

// CrankInstruction advances the chain q is in. It returns false when q is
// not InChain.
//
// Accounts: queue (writable), signatory (signer, writable), worker
// (writable), authority, then every account of the next instruction.
func CrankInstruction(q *Queue, signatory, worker ledger.Address) (ledger.Instruction, bool) {
	if !q.InChain() {
		return ledger.Instruction{}, false
	}
	accounts := stepAccounts(q, signatory, worker)
	accounts = appendInner(accounts, q.NextInstruction.ResolvePayer(signatory))
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts:  accounts,
		Data:      ledger.EncodeData(Op{Kind: OpCrank}),
	}, true
}

func stepAccounts(q *Queue, signatory, worker ledger.Address) []ledger.AccountMeta {
	return []ledger.AccountMeta{
		ledger.Writable(q.Address()),
		ledger.Signer(signatory, true),
		ledger.Writable(worker),
		ledger.Readonly(q.Authority),
	}
}

// appendInner lists the accounts an invoked instruction uses. Signer flags
// are dropped: the queue signs for itself and the signatory is already a
// signer of the outer instruction.
func appendInner(accounts []ledger.AccountMeta, ix ledger.Instruction) []ledger.AccountMeta {
	for _, m := range ix.Accounts {
		accounts = append(accounts, ledger.AccountMeta{Address: m.Address, IsWritable: m.IsWritable})
	}
	return accounts
}

// PauseInstruction pauses an active queue.
func PauseInstruction(authority, queue ledger.Address) ledger.Instruction {
	return authorityInstruction(OpPause, authority, queue, false)
}

// ResumeInstruction resumes a paused queue.
func ResumeInstruction(authority, queue ledger.Address) ledger.Instruction {
	return authorityInstruction(OpResume, authority, queue, false)
}

// StopInstruction stops a queue for good.
func StopInstruction(authority, queue ledger.Address) ledger.Instruction {
	return authorityInstruction(OpStop, authority, queue, false)
}

// DeleteInstruction closes a queue and refunds its balance to authority.
func DeleteInstruction(authority, queue ledger.Address) ledger.Instruction {
	return authorityInstruction(OpDelete, authority, queue, true)
}

// UpdateInstruction applies a sparse settings patch.
func UpdateInstruction(authority, queue ledger.Address, s Settings) ledger.Instruction {
	ix := authorityInstruction(OpUpdate, authority, queue, false)
	ix.Data = ledger.EncodeData(Op{Kind: OpUpdate, Settings: &s})
	return ix
}

// WithdrawInstruction moves amount from the queue to payTo.
//
// Accounts: authority (signer), queue (writable), payTo (writable).
func WithdrawInstruction(authority, queue, payTo ledger.Address, amount uint64) ledger.Instruction {
	ix := authorityInstruction(OpWithdraw, authority, queue, false)
	ix.Accounts = append(ix.Accounts, ledger.Writable(payTo))
	ix.Data = ledger.EncodeData(Op{Kind: OpWithdraw, Amount: amount})
	return ix
}

func authorityInstruction(kind OpKind, authority, queue ledger.Address, writable bool) ledger.Instruction {
	return ledger.Instruction{
		ProgramID: ProgramID,
		Accounts: []ledger.AccountMeta{
			ledger.Signer(authority, writable),
			ledger.Writable(queue),
		},
		Data: ledger.EncodeData(Op{Kind: kind}),
	}
}
