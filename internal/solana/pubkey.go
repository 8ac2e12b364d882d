package solana

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeySize is the length of a decoded Solana address.
const PublicKeySize = 32

// PublicKey is a decoded Solana address.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 address and checks its length.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	if s == "" {
		return pk, fmt.Errorf("empty address")
	}
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("address %q decodes to %d bytes, want %d", s, len(b), PublicKeySize)
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 form.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsOnCurve reports whether the key is a valid ed25519 point.
// Wallets are on the curve; program-derived addresses are not.
func (pk PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}
