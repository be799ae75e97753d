package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/crank/ledger"
	"github.com/xraph/crank/trigger"
)

// DefaultFee is the step fee paid from the queue to the worker for every
// eligible kickoff and every crank.
const DefaultFee uint64 = 1000

// Compile-time interface check.
var _ ledger.Program = (*Program)(nil)

// Option configures a Program.
type Option func(*Program)

// WithFee sets the step fee.
func WithFee(fee uint64) Option {
	return func(p *Program) { p.fee = fee }
}

// WithAuthorizer restricts which signatories may kick off and crank.
func WithAuthorizer(a Authorizer) Option {
	return func(p *Program) { p.auth = a }
}

// Program is the queue state machine.
type Program struct {
	fee  uint64
	auth Authorizer
}

// NewProgram returns a queue program. By default every signatory is
// authorized and the fee is DefaultFee.
func NewProgram(opts ...Option) *Program {
	p := &Program{fee: DefaultFee, auth: AllowAll}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fee returns the step fee.
func (p *Program) Fee() uint64 { return p.fee }

// Execute implements ledger.Program.
func (p *Program) Execute(env ledger.Env, ix ledger.Instruction) (*ledger.CrankResponse, error) {
	var op Op
	if err := ledger.DecodeData(ix.Data, &op); err != nil {
		return nil, err
	}

	switch op.Kind {
	case OpCreate:
		return nil, p.create(env, ix, op)
	case OpKickoff:
		return nil, p.kickoff(env, ix, op)
	case OpCrank:
		return nil, p.crank(env, ix)
	case OpPause, OpResume, OpStop, OpUpdate:
		return nil, p.transition(env, ix, op)
	case OpDelete:
		return nil, p.delete(env, ix)
	case OpWithdraw:
		return nil, p.withdraw(env, ix, op)
	default:
		return nil, fmt.Errorf("%w: unknown queue op %q", ledger.ErrInvalidData, op.Kind)
	}
}

// ──────────────────────────────────────────────────
// Authority operations
// ──────────────────────────────────────────────────

func (p *Program) create(env ledger.Env, ix ledger.Instruction, op Op) error {
	authority, queueAddr, err := accounts2(ix)
	if err != nil {
		return err
	}
	if !env.IsSigner(authority) {
		return fmt.Errorf("%w: authority %s did not sign", ErrUnauthorized, authority.Short())
	}
	if len(op.ID) > MaxIDLength {
		return fmt.Errorf("%w: %d > %d bytes", ErrIDTooLong, len(op.ID), MaxIDLength)
	}
	if queueAddr != Address(authority, op.ID) {
		return fmt.Errorf("%w: queue address does not match (authority, id)", ledger.ErrInvalidAddress)
	}
	if op.Trigger == nil || op.Kickoff == nil {
		return fmt.Errorf("%w: create needs a trigger and a kickoff instruction", ledger.ErrInvalidData)
	}
	if err := op.Trigger.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSettings, err)
	}
	if op.Kickoff.ProgramID.IsZero() {
		return fmt.Errorf("%w: kickoff instruction has no program", ErrMalformedSettings)
	}

	if existing, err := env.Account(queueAddr); err == nil && existing.Owner == ProgramID {
		return fmt.Errorf("%w: %s", ErrQueueExists, op.ID)
	}

	now := env.Now()
	q := &Queue{
		Authority:          authority,
		ID:                 op.ID,
		Trigger:            *op.Trigger,
		KickoffInstruction: op.Kickoff.Clone(),
		State:              StateActive,
		CreatedAt:          now,
		ArmedAt:            now,
	}
	if op.Settings != nil && op.Settings.RateLimit != nil {
		q.RateLimit = *op.Settings.RateLimit
	}
	data, err := q.Encode()
	if err != nil {
		return err
	}
	if err := env.Create(queueAddr, data); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return fmt.Errorf("%w: %s", ErrQueueExists, op.ID)
		}
		return err
	}
	if op.Amount > 0 {
		if err := env.Transfer(authority, queueAddr, op.Amount); err != nil {
			return fmt.Errorf("fund queue: %w", err)
		}
	}
	env.Logf("created queue %q trigger=%s", q.ID, q.Trigger)
	return nil
}

func (p *Program) transition(env ledger.Env, ix ledger.Instruction, op Op) error {
	q, queueAddr, err := p.authorized(env, ix)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpPause:
		if q.State != StateActive {
			return fmt.Errorf("%w: pause from %s", ErrInvalidState, q.State)
		}
		q.State = StatePaused
	case OpResume:
		if q.State != StatePaused {
			return fmt.Errorf("%w: resume from %s", ErrInvalidState, q.State)
		}
		q.State = StateActive
		q.NextInstruction = nil
	case OpStop:
		if q.State == StateStopped {
			return fmt.Errorf("%w: already stopped", ErrInvalidState)
		}
		q.State = StateStopped
		q.NextInstruction = nil
	case OpUpdate:
		if err := applySettings(q, op.Settings, env.Now()); err != nil {
			return err
		}
	}
	return save(env, queueAddr, q)
}

func applySettings(q *Queue, s *Settings, now time.Time) error {
	if s == nil {
		return nil
	}
	if s.Trigger != nil {
		if err := s.Trigger.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedSettings, err)
		}
		if *s.Trigger != q.Trigger {
			q.Trigger = *s.Trigger
			q.ExecContext = nil
			q.ArmedAt = now
		}
	}
	if s.RateLimit != nil {
		q.RateLimit = *s.RateLimit
	}
	return nil
}

func (p *Program) delete(env ledger.Env, ix ledger.Instruction) error {
	q, queueAddr, err := p.authorized(env, ix)
	if err != nil {
		return err
	}
	if q.InChain() {
		return ErrInChain
	}
	env.Logf("deleted queue %q", q.ID)
	return env.Close(queueAddr, q.Authority)
}

func (p *Program) withdraw(env ledger.Env, ix ledger.Instruction, op Op) error {
	if len(ix.Accounts) < 3 {
		return fmt.Errorf("%w: withdraw needs 3 accounts", ErrInvalidAccounts)
	}
	_, queueAddr, err := p.authorized(env, ix)
	if err != nil {
		return err
	}
	acc, err := env.Account(queueAddr)
	if err != nil {
		return err
	}
	if _, err := ledger.CheckedSub(acc.Balance, op.Amount); err != nil {
		return fmt.Errorf("%w: withdraw %d of %d", ErrInsufficientBalance, op.Amount, acc.Balance)
	}
	return env.Transfer(queueAddr, ix.Accounts[2].Address, op.Amount)
}

// authorized loads the queue of an authority instruction and checks the
// authority signed it.
func (p *Program) authorized(env ledger.Env, ix ledger.Instruction) (*Queue, ledger.Address, error) {
	authority, queueAddr, err := accounts2(ix)
	if err != nil {
		return nil, queueAddr, err
	}
	q, err := load(env, queueAddr)
	if err != nil {
		return nil, queueAddr, err
	}
	if authority != q.Authority || !env.IsSigner(authority) {
		return nil, queueAddr, fmt.Errorf("%w: %s is not the authority of %q", ErrUnauthorized, authority.Short(), q.ID)
	}
	return q, queueAddr, nil
}

// ──────────────────────────────────────────────────
// Worker operations
// ──────────────────────────────────────────────────

// stepping holds the accounts shared by kickoff and crank.
type stepping struct {
	queue     ledger.Address
	signatory ledger.Address
	worker    ledger.Address
}

func (p *Program) stepAccounts(env ledger.Env, ix ledger.Instruction) (stepping, error) {
	if len(ix.Accounts) < 4 {
		return stepping{}, fmt.Errorf("%w: step needs at least 4 accounts", ErrInvalidAccounts)
	}
	s := stepping{
		queue:     ix.Accounts[0].Address,
		signatory: ix.Accounts[1].Address,
		worker:    ix.Accounts[2].Address,
	}
	if !env.IsSigner(s.signatory) || !p.auth.Authorized(s.signatory) {
		return s, fmt.Errorf("%w: signatory %s", ErrUnauthorized, s.signatory.Short())
	}
	return s, nil
}

func (p *Program) kickoff(env ledger.Env, ix ledger.Instruction, op Op) error {
	s, err := p.stepAccounts(env, ix)
	if err != nil {
		return err
	}
	q, err := load(env, s.queue)
	if err != nil {
		return err
	}
	switch {
	case q.State == StateStopped:
		return ErrStopped
	case q.State == StatePaused:
		return ErrPaused
	case q.InChain():
		return ErrInChain
	}

	dec, err := trigger.Evaluate(q.Trigger, envState{env}, q.PriorContext())
	if err != nil {
		return err
	}
	if !dec.Eligible {
		env.Logf("queue %q: trigger %s not eligible", q.ID, q.Trigger)
		return nil
	}
	if q.Trigger.Kind == trigger.KindAccount {
		if op.Fingerprint == nil || *op.Fingerprint != dec.Context.Fingerprint {
			return fmt.Errorf("%w: expected %s", ErrFingerprintMismatch, dec.Context.Fingerprint)
		}
	}

	exec := &ExecContext{Trigger: *dec.Context}
	if q.ExecContext != nil {
		exec.LastSlot = q.ExecContext.LastSlot
		exec.StepsInSlot = q.ExecContext.StepsInSlot
	}
	q.ExecContext = exec
	if err := p.step(env, q, s); err != nil {
		return err
	}

	resp, err := env.Invoke(q.KickoffInstruction.ResolvePayer(s.signatory), s.queue)
	if err != nil {
		return fmt.Errorf("kickoff %q: %w", q.ID, err)
	}
	return p.applyResponse(env, s.queue, q.KickoffInstruction.ProgramID, resp)
}

func (p *Program) crank(env ledger.Env, ix ledger.Instruction) error {
	s, err := p.stepAccounts(env, ix)
	if err != nil {
		return err
	}
	q, err := load(env, s.queue)
	if err != nil {
		return err
	}
	switch {
	case q.State == StateStopped:
		return ErrStopped
	case q.State == StatePaused:
		return ErrPaused
	case !q.InChain():
		return ErrNotInChain
	}
	if q.ExecContext == nil {
		q.ExecContext = &ExecContext{}
	}

	// The stored instruction is taken before invoking it, so a callee
	// re-entering the queue finds it outside a chain.
	next := q.NextInstruction.ResolvePayer(s.signatory)
	q.NextInstruction = nil
	if err := p.step(env, q, s); err != nil {
		return err
	}

	resp, err := env.Invoke(next, s.queue)
	if err != nil {
		return fmt.Errorf("crank %q: %w", q.ID, err)
	}
	return p.applyResponse(env, s.queue, next.ProgramID, resp)
}

// step enforces the rate limit, charges the fee and persists q.
func (p *Program) step(env ledger.Env, q *Queue, s stepping) error {
	exec := q.ExecContext
	if slot := env.Slot(); exec.LastSlot != slot {
		exec.LastSlot = slot
		exec.StepsInSlot = 0
	}
	if q.RateLimit > 0 && exec.StepsInSlot >= q.RateLimit {
		return fmt.Errorf("%w: %d steps in slot %d", ErrRateLimited, exec.StepsInSlot, exec.LastSlot)
	}
	exec.StepsInSlot++

	if err := save(env, s.queue, q); err != nil {
		return err
	}
	if p.fee == 0 {
		return nil
	}
	acc, err := env.Account(s.queue)
	if err != nil {
		return err
	}
	if acc.Balance < p.fee {
		return fmt.Errorf("%w: fee %d, balance %d", ErrInsufficientBalance, p.fee, acc.Balance)
	}
	return env.Transfer(s.queue, s.worker, p.fee)
}

// applyResponse records what the invoked program asked for. The queue is
// reloaded because the callee may have stepped through it.
func (p *Program) applyResponse(env ledger.Env, queueAddr, invoked ledger.Address, resp *ledger.CrankResponse) error {
	q, err := load(env, queueAddr)
	if err != nil {
		return err
	}
	if resp == nil {
		q.NextInstruction = nil
		return save(env, queueAddr, q)
	}

	if resp.KickoffInstruction != nil {
		if !authorityProgram(env, q, invoked) {
			return fmt.Errorf("%w: kickoff override from %s", ErrInvalidResponse, invoked.Short())
		}
		if resp.KickoffInstruction.ProgramID.IsZero() {
			return fmt.Errorf("%w: kickoff override has no program", ErrInvalidResponse)
		}
		q.KickoffInstruction = resp.KickoffInstruction.Clone()
	}
	if resp.NextInstruction != nil {
		next := resp.NextInstruction.Clone()
		q.NextInstruction = &next
	} else {
		q.NextInstruction = nil
	}
	return save(env, queueAddr, q)
}

// authorityProgram reports whether invoked speaks for the queue's
// authority: it is the authority itself or owns the authority account.
func authorityProgram(env ledger.Env, q *Queue, invoked ledger.Address) bool {
	if invoked == q.Authority {
		return true
	}
	acc, err := env.Account(q.Authority)
	return err == nil && acc.Owner == invoked
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func accounts2(ix ledger.Instruction) (ledger.Address, ledger.Address, error) {
	if len(ix.Accounts) < 2 {
		return ledger.Address{}, ledger.Address{}, fmt.Errorf("%w: need authority and queue", ErrInvalidAccounts)
	}
	return ix.Accounts[0].Address, ix.Accounts[1].Address, nil
}

func load(env ledger.Env, addr ledger.Address) (*Queue, error) {
	acc, err := env.Account(addr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, addr)
		}
		return nil, err
	}
	return Decode(acc)
}

func save(env ledger.Env, addr ledger.Address, q *Queue) error {
	data, err := q.Encode()
	if err != nil {
		return err
	}
	return env.SetData(addr, data)
}

// envState lets the trigger evaluator read through the program
// environment.
type envState struct{ env ledger.Env }

func (s envState) Account(addr ledger.Address) (*ledger.Account, error) { return s.env.Account(addr) }

func (s envState) Now() time.Time { return s.env.Now() }
