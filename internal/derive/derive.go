// Package derive computes deterministic identities from seed components.
//
// The scheme is the program-derived-address algorithm: SHA256 over the seeds, a bump
// byte, the namespace (program) identity and a fixed marker. The first bump, counting
// down from 255, whose hash is not a valid ed25519 point is used, so no private key
// can exist for a derived identity.
package derive

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"liquidity-pool/internal/domain"
)

// Seed limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

const marker = "ProgramDerivedAddress"

// Seed prefixes used by the pool program.
var (
	seedPool          = []byte("poolconfig")
	seedPoolAuthority = []byte("pool_authority")
	seedLPMint        = []byte("lp_mint")
	seedAssociated    = []byte("associated")
)

// ErrNoViableBump is returned when every bump lands on the curve.
var ErrNoViableBump = errors.New("unable to find a viable bump seed")

// ErrInvalidSeeds is returned when seeds exceed the count or length limits.
var ErrInvalidSeeds = errors.New("invalid seeds")

// Derive returns the derived identity and bump for the given namespace and seeds.
func Derive(namespace domain.Identity, seeds ...[]byte) (domain.Identity, uint8, error) {
	if len(seeds) > MaxSeeds-1 { // one slot is reserved for the bump
		return domain.Identity{}, 0, fmt.Errorf("%w: %d seeds, max %d", ErrInvalidSeeds, len(seeds), MaxSeeds-1)
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return domain.Identity{}, 0, fmt.Errorf("%w: seed %d is %d bytes, max %d", ErrInvalidSeeds, i, len(seed), MaxSeedLen)
		}
	}

	bump := 255
	for ; bump >= 0; bump-- {
		id, ok := CreateWithBump(namespace, uint8(bump), seeds...)
		if ok {
			return id, uint8(bump), nil
		}
	}
	return domain.Identity{}, 0, ErrNoViableBump
}

// CreateWithBump hashes seeds with an explicit bump. ok is false when the result
// is a valid curve point and therefore not usable as a derived identity.
func CreateWithBump(namespace domain.Identity, bump uint8, seeds ...[]byte) (domain.Identity, bool) {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(namespace[:])
	h.Write([]byte(marker))

	var id domain.Identity
	copy(id[:], h.Sum(nil))
	if IsOnCurve(id) {
		return domain.Identity{}, false
	}
	return id, true
}

// IsOnCurve reports whether the identity decodes as an ed25519 point.
func IsOnCurve(id domain.Identity) bool {
	_, err := new(edwards25519.Point).SetBytes(id[:])
	return err == nil
}

// PoolAddress derives the pool id for an ordered mint pair.
func PoolAddress(program, mintA, mintB domain.Identity) (domain.Identity, uint8, error) {
	return Derive(program, seedPool, mintA[:], mintB[:])
}

// PoolAuthority derives the authority that owns a pool's vaults.
func PoolAuthority(program, pool domain.Identity) (domain.Identity, uint8, error) {
	return Derive(program, seedPoolAuthority, pool[:])
}

// LPMintAuthority derives the authority allowed to mint pool-share tokens.
func LPMintAuthority(program domain.Identity) (domain.Identity, uint8, error) {
	return Derive(program, seedLPMint)
}

// AssociatedAccount derives the token account of owner for mint. The ledger
// namespace is fixed so the same owner/mint pair always maps to the same account.
func AssociatedAccount(owner, mint domain.Identity) (domain.Identity, error) {
	id, _, err := Derive(associatedNamespace, seedAssociated, owner[:], mint[:])
	return id, err
}

// associatedNamespace is SHA256("associated-token-account").
var associatedNamespace = func() domain.Identity {
	return domain.Identity(sha256.Sum256([]byte("associated-token-account")))
}()
