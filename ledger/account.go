package ledger

import (
	"bytes"
	"math/bits"
)

// Account is the state stored at one address.
type Account struct {
	Owner   Address `msgpack:"owner"`
	Balance uint64  `msgpack:"balance"`
	Data    []byte  `msgpack:"data"`
}

// Clone returns a deep copy of the account. Clone of nil is nil.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := &Account{Owner: a.Owner, Balance: a.Balance}
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return out
}

// Equal reports whether two accounts hold identical state. Two nil
// accounts are equal.
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Owner == b.Owner && a.Balance == b.Balance && bytes.Equal(a.Data, b.Data)
}

// KeyedAccount pairs an address with its account. Account is nil when
// nothing exists at the address.
type KeyedAccount struct {
	Address Address  `msgpack:"address"`
	Account *Account `msgpack:"account"`
}

// CheckedAdd returns a+b or ErrBalanceOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrBalanceOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrInsufficientFunds.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrInsufficientFunds
	}
	return diff, nil
}
