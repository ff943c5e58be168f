package settlement

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
)

// Escrow program methods the service builds or verifies.
const (
	IxPayRental             = "pay_rental"
	IxCompleteRental        = "complete_rental"
	IxCancelAsRenterCreated = "cancel_as_renter_created"
	IxCancelAsRenterPaid    = "cancel_as_renter_paid"
	IxCancelAsOwner         = "cancel_as_owner"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Name       string    `json:"name"`
	Pubkey     PublicKey `json:"pubkey"`
	IsSigner   bool      `json:"is_signer"`
	IsWritable bool      `json:"is_writable"`
}

type Instruction struct {
	Name      string         `json:"name"`
	ProgramID PublicKey      `json:"program_id"`
	Accounts  []AccountMeta  `json:"accounts"`
	Data      string         `json:"data"` // base64
	Args      map[string]any `json:"args,omitempty"`
}

// Discriminator is the 8-byte Anchor method selector for name.
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// borsh is a minimal little-endian writer for Anchor instruction arguments.
type borsh struct{ buf []byte }

func newBorsh(method string) *borsh {
	d := Discriminator(method)
	return &borsh{buf: append([]byte(nil), d[:]...)}
}

func (b *borsh) u64(v uint64) *borsh {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
	return b
}

func (b *borsh) i64(v int64) *borsh { return b.u64(uint64(v)) }

func (b *borsh) key(k PublicKey) *borsh {
	b.buf = append(b.buf, k[:]...)
	return b
}

func (b *borsh) str(s string) *borsh {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *borsh) base64() string { return base64.StdEncoding.EncodeToString(b.buf) }

func writable(name string, k PublicKey) AccountMeta {
	return AccountMeta{Name: name, Pubkey: k, IsWritable: true}
}

func readonly(name string, k PublicKey) AccountMeta {
	return AccountMeta{Name: name, Pubkey: k}
}

func signer(name string, k PublicKey, w bool) AccountMeta {
	return AccountMeta{Name: name, Pubkey: k, IsSigner: true, IsWritable: w}
}
