package derive

import (
	"bytes"
	"errors"
	"testing"

	"liquidity-pool/internal/domain"
)

func testIdentity(b byte) domain.Identity {
	var id domain.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func TestDerive_Deterministic(t *testing.T) {
	program := testIdentity(1)

	first, bump1, err := Derive(program, []byte("seed"), []byte("other"))
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, bump2, err := Derive(program, []byte("seed"), []byte("other"))
		if err != nil {
			t.Fatalf("Derive failed: %v", err)
		}
		if again != first || bump1 != bump2 {
			t.Fatalf("Derive not deterministic: %s/%d != %s/%d", again, bump2, first, bump1)
		}
	}
}

func TestDerive_ResultIsOffCurve(t *testing.T) {
	program := testIdentity(9)
	for i := 0; i < 32; i++ {
		id, bump, err := Derive(program, []byte{byte(i)})
		if err != nil {
			t.Fatalf("Derive failed: %v", err)
		}
		if IsOnCurve(id) {
			t.Errorf("derived identity %s is on the curve", id)
		}
		recreated, ok := CreateWithBump(program, bump, []byte{byte(i)})
		if !ok || recreated != id {
			t.Errorf("CreateWithBump(%d) = %s/%v, want %s", bump, recreated, ok, id)
		}
	}
}

func TestDerive_SeedLimits(t *testing.T) {
	program := testIdentity(2)

	_, _, err := Derive(program, bytes.Repeat([]byte{1}, MaxSeedLen+1))
	if !errors.Is(err, ErrInvalidSeeds) {
		t.Errorf("expected ErrInvalidSeeds for long seed, got %v", err)
	}

	seeds := make([][]byte, MaxSeeds)
	for i := range seeds {
		seeds[i] = []byte{byte(i)}
	}
	_, _, err = Derive(program, seeds...)
	if !errors.Is(err, ErrInvalidSeeds) {
		t.Errorf("expected ErrInvalidSeeds for too many seeds, got %v", err)
	}
}

func TestPoolAddress_OrderedPair(t *testing.T) {
	program := testIdentity(3)
	mintA := testIdentity(4)
	mintB := testIdentity(5)

	ab, _, err := PoolAddress(program, mintA, mintB)
	if err != nil {
		t.Fatalf("PoolAddress failed: %v", err)
	}
	ba, _, err := PoolAddress(program, mintB, mintA)
	if err != nil {
		t.Fatalf("PoolAddress failed: %v", err)
	}
	if ab == ba {
		t.Error("pool address should depend on mint order")
	}

	otherProgram, _, err := PoolAddress(testIdentity(6), mintA, mintB)
	if err != nil {
		t.Fatalf("PoolAddress failed: %v", err)
	}
	if otherProgram == ab {
		t.Error("pool address should depend on the program")
	}
}

func TestDerivedTable_Distinct(t *testing.T) {
	program := testIdentity(7)
	pool, _, err := PoolAddress(program, testIdentity(8), testIdentity(10))
	if err != nil {
		t.Fatalf("PoolAddress failed: %v", err)
	}
	authority, _, err := PoolAuthority(program, pool)
	if err != nil {
		t.Fatalf("PoolAuthority failed: %v", err)
	}
	lpAuth, _, err := LPMintAuthority(program)
	if err != nil {
		t.Fatalf("LPMintAuthority failed: %v", err)
	}
	vault, err := AssociatedAccount(pool, testIdentity(8))
	if err != nil {
		t.Fatalf("AssociatedAccount failed: %v", err)
	}

	seen := map[domain.Identity]string{}
	for name, id := range map[string]domain.Identity{
		"pool": pool, "authority": authority, "lp_mint_authority": lpAuth, "vault": vault,
	} {
		if prev, dup := seen[id]; dup {
			t.Errorf("%s collides with %s", name, prev)
		}
		seen[id] = name
	}
}
