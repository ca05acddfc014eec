package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// IdentitySize is the byte length of an account, mint or program identity.
const IdentitySize = 32

// Identity is a 32-byte ledger identity (account, mint, vault or authority).
// Its text form is base58, matching Solana public keys.
type Identity [IdentitySize]byte

// ParseIdentity decodes a base58 identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if s == "" {
		return id, fmt.Errorf("%w: empty identity", ErrInvalidInput)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: decode identity %q: %v", ErrInvalidInput, s, err)
	}
	if len(raw) != IdentitySize {
		return id, fmt.Errorf("%w: identity %q has %d bytes, want %d", ErrInvalidInput, s, len(raw), IdentitySize)
	}
	copy(id[:], raw)
	return id, nil
}

// MustParseIdentity is like ParseIdentity but panics on error.
// Intended for constants and tests.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the base58 form.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Bytes returns a copy of the raw bytes.
func (id Identity) Bytes() []byte {
	b := make([]byte, IdentitySize)
	copy(b, id[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
