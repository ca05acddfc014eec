package main

import (
	"encoding/json"
	"fmt"
	"os"

	"liquidity-pool/internal/derive"
	"liquidity-pool/internal/domain"
	"liquidity-pool/internal/ledger"
)

// ledgerSeed describes mints and balances loaded into the in-process ledger.
//
//	{
//	  "mints": [
//	    {"address": "<base58>", "decimals": 6, "authority": "<base58>"},
//	    {"address": "<base58>", "decimals": 6, "lp_mint": true}
//	  ],
//	  "balances": [{"owner": "<base58>", "mint": "<base58>", "amount": 1000000}]
//	}
type ledgerSeed struct {
	Mints    []seedMint    `json:"mints"`
	Balances []seedBalance `json:"balances"`
}

type seedMint struct {
	Address   domain.Identity `json:"address"`
	Decimals  uint8           `json:"decimals"`
	Authority domain.Identity `json:"authority"`
	// LPMint hands the mint to the program's derived LP mint authority.
	LPMint bool `json:"lp_mint"`
}

type seedBalance struct {
	Owner  domain.Identity `json:"owner"`
	Mint   domain.Identity `json:"mint"`
	Amount uint64          `json:"amount"`
}

func loadSeed(path string) (*ledgerSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger seed: %w", err)
	}
	var seed ledgerSeed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse ledger seed %s: %w", path, err)
	}
	return &seed, nil
}

func (s *ledgerSeed) apply(m *ledger.Memory, program domain.Identity) error {
	lpAuthority, _, err := derive.LPMintAuthority(program)
	if err != nil {
		return err
	}
	for _, mint := range s.Mints {
		authority := mint.Authority
		if mint.LPMint {
			authority = lpAuthority
		}
		if err := m.CreateMint(mint.Address, mint.Decimals, authority); err != nil {
			return fmt.Errorf("seed mint %s: %w", mint.Address, err)
		}
	}
	for _, b := range s.Balances {
		if _, err := m.Fund(b.Owner, b.Mint, b.Amount); err != nil {
			return fmt.Errorf("seed balance %s/%s: %w", b.Owner, b.Mint, err)
		}
	}
	return nil
}
