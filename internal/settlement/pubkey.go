package settlement

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	PublicKeyLength = 32
	maxSeeds        = 16
	maxSeedLength   = 32
)

// PublicKey is a Solana account address.
type PublicKey [PublicKeyLength]byte

var (
	SystemProgramID          = MustPublicKey("11111111111111111111111111111111")
	TokenProgramID           = MustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrOnCurve          = errors.New("address lies on the ed25519 curve")
	ErrNoBump           = errors.New("no viable bump seed")
)

func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != PublicKeyLength {
		return k, fmt.Errorf("%w: %d bytes", ErrInvalidPublicKey, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func MustPublicKey(s string) PublicKey {
	k, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k PublicKey) String() string { return base58.Encode(k[:]) }

func (k PublicKey) IsZero() bool { return k == PublicKey{} }

func (k PublicKey) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *PublicKey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	p, err := ParsePublicKey(s)
	if err != nil {
		return err
	}
	*k = p
	return nil
}

// IsOnCurve reports whether b decodes to a point on ed25519.
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress derives the address owned by program for seeds. The result must
// fall off the curve so no private key can exist for it.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	var k PublicKey
	if len(seeds) > maxSeeds {
		return k, fmt.Errorf("too many seeds: %d", len(seeds))
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > maxSeedLength {
			return k, fmt.Errorf("seed longer than %d bytes", maxSeedLength)
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte("ProgramDerivedAddress"))
	sum := h.Sum(nil)
	if IsOnCurve(sum) {
		return k, ErrOnCurve
	}
	copy(k[:], sum)
	return k, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first off-curve address.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		k, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return k, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoBump
}

// AssociatedTokenAddress is the canonical token account of wallet for mint.
func AssociatedTokenAddress(wallet, mint PublicKey) (PublicKey, error) {
	k, _, err := FindProgramAddress([][]byte{wallet[:], TokenProgramID[:], mint[:]}, AssociatedTokenProgramID)
	return k, err
}
