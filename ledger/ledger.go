// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger keeps the per-token pool accounting of the options core.
//
// For each of the two collateral tokens it tracks:
//
//	deposited  net external deposits
//	idle       assets held outside the AMM
//	inAMM      assets lent to AMM liquidity chunks
//	collected  commissions and exercise payments received by passive LPs
//	total      idle + inAMM, recomputed on every update
//
// Every mutation goes through apply, which re-checks total == deposited.
package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/state"
)

// BasisPoints is the denominator of every ratio in the core.
const BasisPoints = 10_000

// Storage key prefix for ledger counters
var ledgerPrefix = []byte("ledger/")

type field byte

const (
	fieldDeposited field = iota
	fieldIdle
	fieldInAMM
	fieldCollected
)

type opKind uint8

const (
	opDeposit opKind = iota
	opWithdraw
	opMoveToAMM
	opMoveFromAMM
	opCollect
)

func (k opKind) String() string {
	switch k {
	case opDeposit:
		return "deposit"
	case opWithdraw:
		return "withdraw"
	case opMoveToAMM:
		return "moveToAMM"
	case opMoveFromAMM:
		return "moveFromAMM"
	default:
		return "collect"
	}
}

// Counters is a read-only view of one token's accounting.
type Counters struct {
	Deposited      *uint256.Int
	Idle           *uint256.Int
	InAMM          *uint256.Int
	Collected      *uint256.Int
	Total          *uint256.Int
	UtilizationBps uint64
}

// Ledger stores counters for token0 and token1 under one account of a StateDB.
type Ledger struct {
	db   state.StateDB
	addr common.Address
}

// New creates a ledger whose slots live under addr.
func New(db state.StateDB, addr common.Address) *Ledger {
	return &Ledger{db: db, addr: addr}
}

func key(token uint8, f field) common.Hash {
	return state.Key(ledgerPrefix, []byte{token, byte(f)})
}

func (l *Ledger) get(token uint8, f field) *uint256.Int {
	return state.GetUint256(l.db, l.addr, key(token, f))
}

func (l *Ledger) set(token uint8, f field, v *uint256.Int) {
	state.SetUint256(l.db, l.addr, key(token, f), v)
}

// Counters returns the current counters of token.
func (l *Ledger) Counters(token uint8) Counters {
	c := Counters{
		Deposited: l.get(token, fieldDeposited),
		Idle:      l.get(token, fieldIdle),
		InAMM:     l.get(token, fieldInAMM),
		Collected: l.get(token, fieldCollected),
	}
	c.Total = new(uint256.Int).Add(c.Idle, c.InAMM)
	c.UtilizationBps = utilization(c.InAMM, c.Total)
	return c
}

// Utilization returns inAMM * 10000 / total for token, 0 when empty.
func (l *Ledger) Utilization(token uint8) uint64 {
	return l.Counters(token).UtilizationBps
}

func utilization(inAMM, total *uint256.Int) uint64 {
	if total.IsZero() {
		return 0
	}
	u := new(uint256.Int).Mul(inAMM, uint256.NewInt(BasisPoints))
	return u.Div(u, total).Uint64()
}

// Deposit records an external deposit.
func (l *Ledger) Deposit(token uint8, amount *uint256.Int) error {
	return l.apply(opDeposit, token, amount)
}

// Withdraw records an external withdrawal. It cannot take assets lent to the AMM.
func (l *Ledger) Withdraw(token uint8, amount *uint256.Int) error {
	return l.apply(opWithdraw, token, amount)
}

// MoveToAMM moves idle assets into AMM liquidity.
func (l *Ledger) MoveToAMM(token uint8, amount *uint256.Int) error {
	return l.apply(opMoveToAMM, token, amount)
}

// MoveFromAMM returns assets from AMM liquidity to idle.
func (l *Ledger) MoveFromAMM(token uint8, amount *uint256.Int) error {
	return l.apply(opMoveFromAMM, token, amount)
}

// Collect records a payment received by the passive pool. The payment is a
// transfer between vault accounts, so only collected changes.
func (l *Ledger) Collect(token uint8, amount *uint256.Int) error {
	return l.apply(opCollect, token, amount)
}

// apply is the only code path that writes ledger counters.
func (l *Ledger) apply(kind opKind, token uint8, amount *uint256.Int) error {
	if token > 1 {
		return fmt.Errorf("%w: token %d", errs.ErrInvalidLegParameter, token)
	}
	if amount.IsZero() {
		return nil
	}
	c := l.Counters(token)

	var err error
	switch kind {
	case opDeposit:
		err = add(c.Deposited, amount, kind)
		if err == nil {
			err = add(c.Idle, amount, kind)
		}
	case opWithdraw:
		err = sub(c.Idle, amount, kind)
		if err == nil {
			err = sub(c.Deposited, amount, kind)
		}
	case opMoveToAMM:
		err = sub(c.Idle, amount, kind)
		if err == nil {
			err = add(c.InAMM, amount, kind)
		}
	case opMoveFromAMM:
		err = sub(c.InAMM, amount, kind)
		if err == nil {
			err = add(c.Idle, amount, kind)
		}
	case opCollect:
		err = add(c.Collected, amount, kind)
	}
	if err != nil {
		return err
	}

	total, overflow := new(uint256.Int).AddOverflow(c.Idle, c.InAMM)
	if overflow {
		return errs.Overflow(kind.String() + " total")
	}
	if !total.Eq(c.Deposited) {
		return fmt.Errorf("%w: token %d total %s != deposited %s after %s",
			errs.ErrConservation, token, total.Dec(), c.Deposited.Dec(), kind)
	}

	l.set(token, fieldDeposited, c.Deposited)
	l.set(token, fieldIdle, c.Idle)
	l.set(token, fieldInAMM, c.InAMM)
	l.set(token, fieldCollected, c.Collected)
	return nil
}

func add(z, amount *uint256.Int, kind opKind) error {
	if _, overflow := z.AddOverflow(z, amount); overflow {
		return errs.Overflow(kind.String())
	}
	return nil
}

func sub(z, amount *uint256.Int, kind opKind) error {
	if z.Lt(amount) {
		return fmt.Errorf("%w: %s of %s exceeds %s", errs.ErrUnderOverFlow, kind, amount.Dec(), z.Dec())
	}
	z.Sub(z, amount)
	return nil
}
