package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// AddressSize is the length of an address in bytes.
const AddressSize = 32

// Address identifies an account or a program on the ledger.
type Address [AddressSize]byte

// ZeroAddress is the all-zero address.
var ZeroAddress Address

// PayerPlaceholder stands in for the submitting worker's signing address
// inside instruction templates. Workers and the queue program replace it
// before execution.
var PayerPlaceholder = NamedAddress("payer")

// NamedAddress returns a deterministic address derived from a name. It is
// used for well-known program IDs and for development keys.
func NamedAddress(name string) Address {
	return Address(blake3.Sum256([]byte("crank/address/" + name)))
}

// DeriveAddress derives a program address from a program ID and seeds.
// Each seed is length-prefixed so distinct seed lists never collide.
func DeriveAddress(program Address, seeds ...[]byte) Address {
	h := blake3.New(AddressSize, nil)
	_, _ = h.Write(program[:])
	var n [4]byte
	for _, s := range seeds {
		binary.BigEndian.PutUint32(n[:], uint32(len(s))) //nolint:gosec // seeds are short
		_, _ = h.Write(n[:])
		_, _ = h.Write(s)
	}
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// ParseAddress parses the hex form produced by String.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, s, err)
	}
	if len(b) != AddressSize {
		return a, fmt.Errorf("%w: %q: want %d bytes, got %d", ErrInvalidAddress, s, AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// String returns the address as lowercase hex.
func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Short returns an abbreviated form for logs.
func (a Address) Short() string { return hex.EncodeToString(a[:4]) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == ZeroAddress }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// EncodeMsgpack writes the address as a 32-byte bin value.
func (a Address) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(a[:])
}

// DecodeMsgpack reads a 32-byte bin value.
func (a *Address) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(b) != AddressSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidAddress, AddressSize, len(b))
	}
	copy(a[:], b)
	return nil
}
