// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package errs holds the error taxonomy shared by every component of the
// options core. Every error aborts the operation that raised it; nothing in the
// core recovers locally.
package errs

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Errors - Input validation
var (
	ErrInputListFail         = errors.New("input list fail")
	ErrInvalidLegParameter   = errors.New("invalid leg parameter")
	ErrPositionAlreadyMinted = errors.New("position already minted")
	ErrOptionsBalanceZero    = errors.New("options balance zero")
	ErrTooManyPositions      = errors.New("too many positions")
	ErrUnknownMarket         = errors.New("unknown market")
)

// Errors - Price and liquidity bounds
var (
	ErrPriceBoundFail                   = errors.New("price bound fail")
	ErrEffectiveLiquidityAboveThreshold = errors.New("effective liquidity above threshold")
	ErrNotEnoughLiquidity               = errors.New("not enough liquidity in chunk")
)

// Errors - Solvency
var (
	ErrNotMarginCalled     = errors.New("not margin called")
	ErrNotEnoughCollateral = errors.New("not enough collateral")
)

// Errors - Roll
var (
	ErrNotATokenRoll = errors.New("not a token roll")
	ErrOptionsNotOTM = errors.New("options not out of the money")
)

// Errors - Arithmetic and engine integrity
var (
	ErrUnderOverFlow = errors.New("under/overflow")
	ErrConservation  = errors.New("ledger conservation violated")
	ErrReentrant     = errors.New("reentrancy detected")
)

// EffectiveLiquidityError reports the caller limit, the ratio the mint would
// produce, and the protocol-wide threshold, all in basis points.
type EffectiveLiquidityError struct {
	Limit     uint64
	Actual    uint64
	Threshold uint64
}

func (e *EffectiveLiquidityError) Error() string {
	return fmt.Sprintf("%v: limit=%d actual=%d threshold=%d",
		ErrEffectiveLiquidityAboveThreshold, e.Limit, e.Actual, e.Threshold)
}

func (e *EffectiveLiquidityError) Unwrap() error { return ErrEffectiveLiquidityAboveThreshold }

// PriceBoundError reports a current tick outside the caller-supplied bounds.
type PriceBoundError struct {
	Tick      int32
	TickLower int32
	TickUpper int32
}

func (e *PriceBoundError) Error() string {
	return fmt.Sprintf("%v: tick=%d bounds=[%d,%d]", ErrPriceBoundFail, e.Tick, e.TickLower, e.TickUpper)
}

func (e *PriceBoundError) Unwrap() error { return ErrPriceBoundFail }

// CollateralError carries the valuation that failed a solvency check.
// Token is the unit both amounts are expressed in.
type CollateralError struct {
	Token     uint8
	Available *uint256.Int
	Required  *uint256.Int
}

func (e *CollateralError) Error() string {
	return fmt.Sprintf("%v: token=%d available=%s required=%s",
		ErrNotEnoughCollateral, e.Token, e.Available.Dec(), e.Required.Dec())
}

func (e *CollateralError) Unwrap() error { return ErrNotEnoughCollateral }

// OverflowError names the quantity that did not fit.
type OverflowError struct {
	Op string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnderOverFlow, e.Op)
}

func (e *OverflowError) Unwrap() error { return ErrUnderOverFlow }

// Overflow is shorthand for an *OverflowError on op.
func Overflow(op string) error {
	return &OverflowError{Op: op}
}
