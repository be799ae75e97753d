package ledger

import "bytes"

// AccountMeta describes one account an instruction touches and the
// privileges it requires.
type AccountMeta struct {
	Address    Address `msgpack:"a"`
	IsSigner   bool    `msgpack:"s,omitempty"`
	IsWritable bool    `msgpack:"w,omitempty"`
}

// Readonly returns a read-only, non-signer account meta.
func Readonly(a Address) AccountMeta { return AccountMeta{Address: a} }

// Writable returns a writable, non-signer account meta.
func Writable(a Address) AccountMeta { return AccountMeta{Address: a, IsWritable: true} }

// Signer returns a signer account meta.
func Signer(a Address, writable bool) AccountMeta {
	return AccountMeta{Address: a, IsSigner: true, IsWritable: writable}
}

// Instruction is one program call inside a batch.
type Instruction struct {
	ProgramID Address       `msgpack:"p"`
	Accounts  []AccountMeta `msgpack:"k"`
	Data      []byte        `msgpack:"d"`
}

// Clone returns a deep copy of the instruction.
func (ix Instruction) Clone() Instruction {
	out := Instruction{ProgramID: ix.ProgramID}
	if ix.Accounts != nil {
		out.Accounts = append([]AccountMeta(nil), ix.Accounts...)
	}
	if ix.Data != nil {
		out.Data = append([]byte(nil), ix.Data...)
	}
	return out
}

// Equal reports whether two instructions are identical.
func (ix Instruction) Equal(o Instruction) bool {
	if ix.ProgramID != o.ProgramID || len(ix.Accounts) != len(o.Accounts) {
		return false
	}
	for i := range ix.Accounts {
		if ix.Accounts[i] != o.Accounts[i] {
			return false
		}
	}
	return bytes.Equal(ix.Data, o.Data)
}

// ResolvePayer returns a copy of the instruction with every occurrence of
// PayerPlaceholder replaced by payer.
func (ix Instruction) ResolvePayer(payer Address) Instruction {
	out := ix.Clone()
	for i := range out.Accounts {
		if out.Accounts[i].Address == PayerPlaceholder {
			out.Accounts[i].Address = payer
		}
	}
	return out
}

// Meta returns the account meta for addr, if the instruction lists it.
// When an address is listed more than once the privileges are merged.
func (ix Instruction) Meta(addr Address) (AccountMeta, bool) {
	var (
		out   AccountMeta
		found bool
	)
	for _, m := range ix.Accounts {
		if m.Address != addr {
			continue
		}
		found = true
		out.Address = addr
		out.IsSigner = out.IsSigner || m.IsSigner
		out.IsWritable = out.IsWritable || m.IsWritable
	}
	return out, found
}
