// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault holds collateral balances of accounts in the two pool tokens.
package vault

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/state"
)

var ErrInsufficientBalance = errors.New("insufficient vault balance")

// Storage key prefixes for vault state
var (
	balancePrefix = []byte("vault/bal")
	totalPrefix   = []byte("vault/tot")
)

// Vault is the collateral interface consumed by the engine.
type Vault interface {
	BalanceOf(account common.Address, token uint8) *uint256.Int
	Debit(account common.Address, token uint8, amount *uint256.Int) error
	Credit(account common.Address, token uint8, amount *uint256.Int) error
}

// Store is a Vault whose balances live in a StateDB, so they revert with the
// enclosing transaction.
type Store struct {
	db   state.StateDB
	addr common.Address
}

var _ Vault = (*Store)(nil)

// New creates a vault whose slots live under addr.
func New(db state.StateDB, addr common.Address) *Store {
	return &Store{db: db, addr: addr}
}

func balanceKey(account common.Address, token uint8) common.Hash {
	return state.Key(balancePrefix, account.Bytes(), []byte{token})
}

func totalKey(token uint8) common.Hash {
	return state.Key(totalPrefix, []byte{token})
}

// BalanceOf returns the balance of account in token.
func (v *Store) BalanceOf(account common.Address, token uint8) *uint256.Int {
	return state.GetUint256(v.db, v.addr, balanceKey(account, token))
}

// Total returns the sum of all balances in token.
func (v *Store) Total(token uint8) *uint256.Int {
	return state.GetUint256(v.db, v.addr, totalKey(token))
}

// Credit adds amount to the account's balance.
func (v *Store) Credit(account common.Address, token uint8, amount *uint256.Int) error {
	if token > 1 {
		return fmt.Errorf("%w: token %d", errs.ErrInvalidLegParameter, token)
	}
	bal, overflow := new(uint256.Int).AddOverflow(v.BalanceOf(account, token), amount)
	if overflow {
		return errs.Overflow("vault balance")
	}
	total, overflow := new(uint256.Int).AddOverflow(v.Total(token), amount)
	if overflow {
		return errs.Overflow("vault total")
	}
	state.SetUint256(v.db, v.addr, balanceKey(account, token), bal)
	state.SetUint256(v.db, v.addr, totalKey(token), total)
	return nil
}

// Debit removes amount from the account's balance.
func (v *Store) Debit(account common.Address, token uint8, amount *uint256.Int) error {
	if token > 1 {
		return fmt.Errorf("%w: token %d", errs.ErrInvalidLegParameter, token)
	}
	bal := v.BalanceOf(account, token)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of token %d, needs %s",
			ErrInsufficientBalance, account.Hex(), bal.Dec(), token, amount.Dec())
	}
	total := v.Total(token)
	if total.Lt(amount) {
		return fmt.Errorf("%w: vault total below debit", errs.ErrConservation)
	}
	state.SetUint256(v.db, v.addr, balanceKey(account, token), bal.Sub(bal, amount))
	state.SetUint256(v.db, v.addr, totalKey(token), total.Sub(total, amount))
	return nil
}

// Transfer moves amount of token between two accounts.
func (v *Store) Transfer(from, to common.Address, token uint8, amount *uint256.Int) error {
	if amount.IsZero() || from == to {
		return nil
	}
	if err := v.Debit(from, token, amount); err != nil {
		return err
	}
	return v.Credit(to, token, amount)
}
