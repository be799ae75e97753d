package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/xraph/crank/ledger"
)

// maxCallDepth bounds nested Invoke calls.
const maxCallDepth = 4

// txn is a copy-on-write overlay over committed accounts. A nil entry in
// writes marks a deletion.
type txn struct {
	base   map[ledger.Address]*ledger.Account
	writes map[ledger.Address]*ledger.Account
}

func newTxn(base map[ledger.Address]*ledger.Account) *txn {
	return &txn{base: base, writes: make(map[ledger.Address]*ledger.Account)}
}

func (t *txn) get(addr ledger.Address) (*ledger.Account, bool) {
	if w, ok := t.writes[addr]; ok {
		return w, w != nil
	}
	a, ok := t.base[addr]
	return a, ok
}

func (t *txn) put(addr ledger.Address, acc *ledger.Account) { t.writes[addr] = acc }

func (t *txn) del(addr ledger.Address) { t.writes[addr] = nil }

// commit applies the overlay to dst and returns one event per touched
// address, ordered by address.
func (t *txn) commit(dst map[ledger.Address]*ledger.Account, clock ledger.Clock) []ledger.Event {
	addrs := make([]ledger.Address, 0, len(t.writes))
	for addr := range t.writes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	events := make([]ledger.Event, 0, len(addrs))
	for _, addr := range addrs {
		acc := t.writes[addr]
		if acc == nil {
			delete(dst, addr)
		} else {
			dst[addr] = acc
		}
		events = append(events, ledger.Event{
			Kind:    ledger.EventAccount,
			Address: addr,
			Account: acc.Clone(),
			Clock:   clock,
		})
	}
	return events
}

// env is the ledger.Env handed to a program for one instruction.
type env struct {
	l       *Ledger
	tx      *txn
	batch   *ledger.Batch
	program ledger.Address
	ix      ledger.Instruction
	pda     map[ledger.Address]bool
	depth   int
	now     time.Time
	slot    uint64
	logs    *[]string
}

var _ ledger.Env = (*env)(nil)

func (e *env) run(ix ledger.Instruction) (resp *ledger.CrankResponse, err error) {
	prog, ok := e.l.programs[ix.ProgramID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrProgramNotFound, ix.ProgramID)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program %s panicked: %v", ix.ProgramID.Short(), r)
		}
	}()
	return prog.Execute(e, ix)
}

func (e *env) ProgramID() ledger.Address { return e.program }

func (e *env) Now() time.Time { return e.now }

func (e *env) Slot() uint64 { return e.slot }

func (e *env) Logf(format string, args ...any) {
	*e.logs = append(*e.logs, fmt.Sprintf("program %s: ", e.program.Short())+fmt.Sprintf(format, args...))
}

func (e *env) IsSigner(addr ledger.Address) bool {
	m, ok := e.ix.Meta(addr)
	if !ok || !m.IsSigner {
		return false
	}
	return e.batch.IsSignedBy(addr) || e.pda[addr]
}

func (e *env) listed(addr ledger.Address, writable bool) error {
	m, ok := e.ix.Meta(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotListed, addr)
	}
	if writable && !m.IsWritable {
		return fmt.Errorf("%w: %s", ledger.ErrReadOnly, addr)
	}
	return nil
}

func (e *env) Account(addr ledger.Address) (*ledger.Account, error) {
	if err := e.listed(addr, false); err != nil {
		return nil, err
	}
	acc, ok := e.tx.get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	return acc.Clone(), nil
}

func (e *env) Create(addr ledger.Address, data []byte) error {
	if err := e.listed(addr, true); err != nil {
		return err
	}
	acc := &ledger.Account{Owner: e.program, Data: append([]byte(nil), data...)}
	if existing, ok := e.tx.get(addr); ok {
		if existing.Owner != ledger.SystemProgramID || len(existing.Data) > 0 {
			return fmt.Errorf("%w: %s", ledger.ErrAccountExists, addr)
		}
		acc.Balance = existing.Balance
	}
	e.tx.put(addr, acc)
	return nil
}

func (e *env) SetData(addr ledger.Address, data []byte) error {
	if err := e.listed(addr, true); err != nil {
		return err
	}
	acc, ok := e.tx.get(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	if acc.Owner != e.program {
		return fmt.Errorf("%w: %s", ledger.ErrNotOwner, addr)
	}
	next := acc.Clone()
	next.Data = append([]byte(nil), data...)
	e.tx.put(addr, next)
	return nil
}

func (e *env) Transfer(from, to ledger.Address, amount uint64) error {
	if err := e.listed(from, true); err != nil {
		return err
	}
	if err := e.listed(to, true); err != nil {
		return err
	}
	src, ok := e.tx.get(from)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, from)
	}
	if src.Owner != e.program && (src.Owner != ledger.SystemProgramID || !e.IsSigner(from)) {
		return fmt.Errorf("%w: cannot debit %s", ledger.ErrNotOwner, from)
	}
	debited, err := ledger.CheckedSub(src.Balance, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if from == to {
		return nil
	}

	next := src.Clone()
	next.Balance = debited
	e.tx.put(from, next)

	return e.credit(to, amount)
}

func (e *env) credit(addr ledger.Address, amount uint64) error {
	dst, ok := e.tx.get(addr)
	if !ok {
		dst = &ledger.Account{Owner: ledger.SystemProgramID}
	} else {
		dst = dst.Clone()
	}
	bal, err := ledger.CheckedAdd(dst.Balance, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", addr, err)
	}
	dst.Balance = bal
	e.tx.put(addr, dst)
	return nil
}

func (e *env) Close(addr, refundTo ledger.Address) error {
	if err := e.listed(addr, true); err != nil {
		return err
	}
	if err := e.listed(refundTo, true); err != nil {
		return err
	}
	acc, ok := e.tx.get(addr)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	if acc.Owner != e.program {
		return fmt.Errorf("%w: %s", ledger.ErrNotOwner, addr)
	}
	e.tx.del(addr)
	return e.credit(refundTo, acc.Balance)
}

func (e *env) Invoke(ix ledger.Instruction, signers ...ledger.Address) (*ledger.CrankResponse, error) {
	if e.depth+1 > maxCallDepth {
		return nil, ledger.ErrCallDepth
	}

	pda := make(map[ledger.Address]bool, len(signers))
	for _, s := range signers {
		acc, ok := e.tx.get(s)
		if !ok || acc.Owner != e.program {
			return nil, fmt.Errorf("%w: %s cannot sign for %s", ledger.ErrPrivilegeEscalation, e.program.Short(), s)
		}
		pda[s] = true
	}

	for _, m := range ix.Accounts {
		outer, ok := e.ix.Meta(m.Address)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotListed, m.Address)
		}
		if m.IsWritable && !outer.IsWritable {
			return nil, fmt.Errorf("%w: %s is read-only", ledger.ErrPrivilegeEscalation, m.Address)
		}
		if m.IsSigner && !e.IsSigner(m.Address) && !pda[m.Address] {
			return nil, fmt.Errorf("%w: %s did not sign", ledger.ErrPrivilegeEscalation, m.Address)
		}
	}

	child := &env{
		l:       e.l,
		tx:      e.tx,
		batch:   e.batch,
		program: ix.ProgramID,
		ix:      ix,
		pda:     pda,
		depth:   e.depth + 1,
		now:     e.now,
		slot:    e.slot,
		logs:    e.logs,
	}
	return child.run(ix)
}
