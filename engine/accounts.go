// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/state"
	"github.com/parsdao/options/tokenid"
)

// Storage key prefixes for account state
var (
	hashPrefix    = []byte("acct/hash")
	lenPrefix     = []byte("acct/len")
	listPrefix    = []byte("acct/list")
	balancePrefix = []byte("acct/pos")
)

// Balance is the stored record of one held position.
type Balance struct {
	// Size is the number of contracts, at most 2^128-1.
	Size *uint256.Int
	// Utilization of each token's pool at mint, in basis points.
	Utilization [2]uint64
}

// Held reports whether the balance is non-zero.
func (b Balance) Held() bool { return b.Size != nil && !b.Size.IsZero() }

// pack lays out size in bytes 0..15 and the utilizations in 16..23 and 24..31.
func (b Balance) pack() (common.Hash, error) {
	var v common.Hash
	if b.Size.BitLen() > 128 {
		return v, errs.Overflow("position size exceeds uint128")
	}
	sz := b.Size.Bytes32()
	copy(v[:16], sz[16:])
	binary.BigEndian.PutUint64(v[16:24], b.Utilization[0])
	binary.BigEndian.PutUint64(v[24:32], b.Utilization[1])
	return v, nil
}

func unpackBalance(v common.Hash) Balance {
	return Balance{
		Size:        new(uint256.Int).SetBytes(v[:16]),
		Utilization: [2]uint64{binary.BigEndian.Uint64(v[16:24]), binary.BigEndian.Uint64(v[24:32])},
	}
}

func (e *Engine) storedHash(account common.Address) common.Hash {
	return e.store.GetState(accountsAddress, state.Key(hashPrefix, account.Bytes()))
}

func (e *Engine) storedList(account common.Address) []tokenid.ID {
	n := state.GetUint256(e.store, accountsAddress, state.Key(lenPrefix, account.Bytes())).Uint64()
	base := state.Key(listPrefix, account.Bytes())
	ids := make([]tokenid.ID, 0, n)
	for i := uint64(0); i < n; i++ {
		ids = append(ids, tokenid.FromBytes32(e.store.GetState(accountsAddress, state.IndexKey(base, i))))
	}
	return ids
}

// writeList replaces the account's list and its hash. Slots past the new
// length are cleared.
func (e *Engine) writeList(account common.Address, ids []tokenid.ID) {
	lenKey := state.Key(lenPrefix, account.Bytes())
	old := state.GetUint256(e.store, accountsAddress, lenKey).Uint64()
	base := state.Key(listPrefix, account.Bytes())
	for i, id := range ids {
		e.store.SetState(accountsAddress, state.IndexKey(base, uint64(i)), id.Bytes32())
	}
	for i := uint64(len(ids)); i < old; i++ {
		e.store.SetState(accountsAddress, state.IndexKey(base, i), common.Hash{})
	}
	state.SetUint256(e.store, accountsAddress, lenKey, uint256.NewInt(uint64(len(ids))))
	e.store.SetState(accountsAddress, state.Key(hashPrefix, account.Bytes()), tokenid.HashList(ids))
}

// verifyList checks list against the account's stored hash.
func (e *Engine) verifyList(account common.Address, list []tokenid.ID) error {
	if tokenid.HashList(list) != e.storedHash(account) {
		return fmt.Errorf("%w: list of %d does not match %s", errs.ErrInputListFail, len(list), account.Hex())
	}
	return nil
}

func (e *Engine) balanceOf(account common.Address, id tokenid.ID) Balance {
	b := id.Bytes32()
	return unpackBalance(e.store.GetState(accountsAddress, state.Key(balancePrefix, account.Bytes(), b[:])))
}

func (e *Engine) setBalance(account common.Address, id tokenid.ID, bal Balance) error {
	v, err := bal.pack()
	if err != nil {
		return err
	}
	b := id.Bytes32()
	e.store.SetState(accountsAddress, state.Key(balancePrefix, account.Bytes(), b[:]), v)
	return nil
}

func (e *Engine) clearBalance(account common.Address, id tokenid.ID) {
	b := id.Bytes32()
	e.store.SetState(accountsAddress, state.Key(balancePrefix, account.Bytes(), b[:]), common.Hash{})
}

// holdings decodes every id in list and attaches its stored balance.
func (e *Engine) holdings(account common.Address, list []tokenid.ID) ([]collateral.Holding, error) {
	out := make([]collateral.Holding, 0, len(list))
	for _, id := range list {
		pos, err := e.cache.Decode(id)
		if err != nil {
			return nil, err
		}
		bal := e.balanceOf(account, id)
		if !bal.Held() {
			return nil, fmt.Errorf("%w: %s not held", errs.ErrInputListFail, id.Hex())
		}
		out = append(out, collateral.Holding{ID: id, Position: pos, Size: bal.Size, Utilization: bal.Utilization})
	}
	return out, nil
}

// valuate values the account's holdings in list at tick.
func (e *Engine) valuate(account common.Address, list []tokenid.ID, tick int32) (*collateral.Valuation, error) {
	hs, err := e.holdings(account, list)
	if err != nil {
		return nil, err
	}
	return e.calc.Valuate(e.balances(account), hs, tick)
}

// requireSolvent fails with a *errs.CollateralError when the account cannot
// cover list at tick.
func (e *Engine) requireSolvent(account common.Address, list []tokenid.ID, tick int32) error {
	v, err := e.valuate(account, list, tick)
	if err != nil {
		return err
	}
	return v.CheckSolvent()
}

// Valuate collapses the account's valuation at referenceTick into token
// units. referenceTick need not be the pool's tick, so callers can value the
// account at a hypothetical price. list must be the account's current
// position list.
func (e *Engine) Valuate(account common.Address, referenceTick int32, token uint8, list []tokenid.ID) (available, required *uint256.Int, err error) {
	err = e.view(func() error {
		if err := e.verifyList(account, list); err != nil {
			return err
		}
		v, err := e.valuate(account, list, referenceTick)
		if err != nil {
			return err
		}
		available, required, err = v.Collapse(token)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return available, required, nil
}

// Valuation returns the account's per token valuation at the current tick.
func (e *Engine) Valuation(account common.Address, list []tokenid.ID) (*collateral.Valuation, error) {
	var v *collateral.Valuation
	err := e.view(func() error {
		if err := e.verifyList(account, list); err != nil {
			return err
		}
		var err error
		v, err = e.valuate(account, list, e.amm.CurrentTick())
		return err
	})
	return v, err
}

// IsLiquidatable reports whether the account is below its requirement at the
// current tick.
func (e *Engine) IsLiquidatable(account common.Address, list []tokenid.ID) (bool, error) {
	v, err := e.Valuation(account, list)
	if err != nil {
		return false, err
	}
	ok, err := v.Solvent()
	return !ok, err
}
