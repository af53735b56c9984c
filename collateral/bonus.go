// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package collateral

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/parsdao/options/tickmath"
)

// BonusPolicy sizes the liquidation bonus from a collapsed valuation.
// Implementations must be non-decreasing in required - available and must
// never return more than available.
type BonusPolicy interface {
	Bonus(available, required *uint256.Int) (*uint256.Int, error)
}

// CappedBonus pays the shortfall, capped at MaxBonusBps of the account's
// collateral.
type CappedBonus struct {
	MaxBonusBps uint64
}

var _ BonusPolicy = CappedBonus{}

// Bonus returns min(available * MaxBonusBps / 10000, required - available),
// or zero for a solvent account.
func (b CappedBonus) Bonus(available, required *uint256.Int) (*uint256.Int, error) {
	if b.MaxBonusBps > BasisPoints {
		return nil, fmt.Errorf("%w: maxBonusBps %d", ErrInvalidParams, b.MaxBonusBps)
	}
	if !available.Lt(required) {
		return new(uint256.Int), nil
	}
	capped, err := tickmath.MulDiv(available, uint256.NewInt(b.MaxBonusBps), uint256.NewInt(BasisPoints))
	if err != nil {
		return nil, err
	}
	shortfall := new(uint256.Int).Sub(required, available)
	if shortfall.Lt(capped) {
		return shortfall, nil
	}
	return capped, nil
}

// SplitByValue divides amount, in token0 units, between the tokens in
// proportion to the value of balances at sqrtPriceX96. It returns the part
// payable in token0 (token0 units) and in token1 (token1 units). With empty
// balances everything is assigned to token0.
func SplitByValue(amount *uint256.Int, balances [2]*uint256.Int, sqrtPriceX96 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	value1, err := tickmath.Convert1To0(balances[1], sqrtPriceX96, false)
	if err != nil {
		return nil, nil, err
	}
	total := new(uint256.Int).Add(balances[0], value1)
	if total.IsZero() {
		return new(uint256.Int).Set(amount), new(uint256.Int), nil
	}
	part0, err := tickmath.MulDiv(amount, balances[0], total)
	if err != nil {
		return nil, nil, err
	}
	rest := new(uint256.Int).Sub(amount, part0)
	part1, err := tickmath.Convert0To1(rest, sqrtPriceX96, false)
	if err != nil {
		return nil, nil, err
	}
	return part0, part1, nil
}
