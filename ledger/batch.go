package ledger

import (
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/blake3"
)

// Batch is an ordered, all-or-nothing set of instructions paid for and
// signed by Payer. Signers lists additional addresses that signed.
type Batch struct {
	Payer        Address       `msgpack:"payer"`
	Instructions []Instruction `msgpack:"ixs"`
	Signers      []Address     `msgpack:"signers,omitempty"`
}

// NewBatch creates a batch paid for by payer.
func NewBatch(payer Address, ixs ...Instruction) *Batch {
	return &Batch{Payer: payer, Instructions: ixs}
}

// With returns a copy of the batch with ix appended. The receiver is
// left untouched so earlier candidates stay valid.
func (b *Batch) With(ix Instruction) *Batch {
	out := &Batch{
		Payer:        b.Payer,
		Instructions: make([]Instruction, 0, len(b.Instructions)+1),
		Signers:      b.Signers,
	}
	out.Instructions = append(out.Instructions, b.Instructions...)
	out.Instructions = append(out.Instructions, ix)
	return out
}

// Len returns the number of instructions.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Instructions)
}

// Encode serializes the batch to its wire form.
func (b *Batch) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode batch: %w", err)
	}
	return data, nil
}

// Size returns the encoded length of the batch in bytes.
func (b *Batch) Size() (int, error) {
	data, err := b.Encode()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// IsSignedBy reports whether addr signed the batch.
func (b *Batch) IsSignedBy(addr Address) bool {
	if addr == b.Payer {
		return true
	}
	for _, s := range b.Signers {
		if s == addr {
			return true
		}
	}
	return false
}

// Signature returns the digest that identifies the batch once submitted.
func (b *Batch) Signature() (Signature, error) {
	data, err := b.Encode()
	if err != nil {
		return Signature{}, err
	}
	return Signature(blake3.Sum256(data)), nil
}

// DecodeBatch parses the wire form produced by Encode.
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := msgpack.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("ledger: decode batch: %w", err)
	}
	return &b, nil
}

// Signature identifies a submitted batch.
type Signature [32]byte

// String returns the signature as lowercase hex.
func (s Signature) String() string { return hex.EncodeToString(s[:]) }

// IsZero reports whether s is the zero signature.
func (s Signature) IsZero() bool { return s == Signature{} }

// ParseSignature parses the hex form produced by String.
func ParseSignature(str string) (Signature, error) {
	var s Signature
	b, err := hex.DecodeString(str)
	if err != nil || len(b) != len(s) {
		return s, fmt.Errorf("%w: %q", ErrInvalidSignature, str)
	}
	copy(s[:], b)
	return s, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
