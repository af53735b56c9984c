// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tickmath

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/parsdao/options/errs"
)

// Chunk is a contiguous tick range [Lower, Upper) of liquidity.
type Chunk struct {
	Lower int32
	Upper int32
}

// Validate checks ordering and tick bounds.
func (c Chunk) Validate() error {
	if c.Lower >= c.Upper {
		return fmt.Errorf("%w: [%d,%d)", ErrInvalidTickRange, c.Lower, c.Upper)
	}
	if c.Lower < MinTick || c.Upper > MaxTick {
		return fmt.Errorf("%w: [%d,%d)", ErrTickOutOfRange, c.Lower, c.Upper)
	}
	return nil
}

// Contains reports whether tick lies inside the chunk.
func (c Chunk) Contains(tick int32) bool {
	return c.Lower <= tick && tick < c.Upper
}

// MulDiv computes floor(x*y/d) with a 512-bit intermediate.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, errs.Overflow("mulDiv by zero")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, errs.Overflow("mulDiv")
	}
	return z, nil
}

// MulDivRoundingUp computes ceil(x*y/d).
func MulDivRoundingUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, errs.Overflow("mulDivRoundingUp")
		}
	}
	return z, nil
}

func sortRatios(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

// Amount0ForLiquidity returns L * (sqrtB - sqrtA) / (sqrtA * sqrtB), in token0.
func Amount0ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		return nil, errs.Overflow("amount0 at zero price")
	}
	if liquidity.BitLen() > 160 {
		return nil, errs.Overflow("liquidity")
	}
	num1 := new(uint256.Int).Lsh(liquidity, 96)
	num2 := new(uint256.Int).Sub(sqrtB, sqrtA)
	q, err := MulDiv(num1, num2, sqrtB)
	if err != nil {
		return nil, err
	}
	return q.Div(q, sqrtA), nil
}

// Amount1ForLiquidity returns L * (sqrtB - sqrtA), in token1.
func Amount1ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	return MulDiv(liquidity, new(uint256.Int).Sub(sqrtB, sqrtA), Q96)
}

// LiquidityForAmount0 is the inverse of Amount0ForLiquidity, rounded down.
func LiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.Eq(sqrtB) {
		return nil, errs.Overflow("empty range")
	}
	intermediate, err := MulDiv(sqrtA, sqrtB, Q96)
	if err != nil {
		return nil, err
	}
	l, err := MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
	if err != nil {
		return nil, err
	}
	if l.BitLen() > 128 {
		return nil, errs.Overflow("liquidity exceeds uint128")
	}
	return l, nil
}

// LiquidityForAmount1 is the inverse of Amount1ForLiquidity, rounded down.
func LiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.Eq(sqrtB) {
		return nil, errs.Overflow("empty range")
	}
	l, err := MulDiv(amount1, Q96, new(uint256.Int).Sub(sqrtB, sqrtA))
	if err != nil {
		return nil, err
	}
	if l.BitLen() > 128 {
		return nil, errs.Overflow("liquidity exceeds uint128")
	}
	return l, nil
}

// AmountsAtTick returns the token amounts held by liquidity in chunk when the
// pool sits at tick.
func AmountsAtTick(tick int32, chunk Chunk, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if err := chunk.Validate(); err != nil {
		return nil, nil, err
	}
	sqrtLower := MustSqrtRatioAtTick(chunk.Lower)
	sqrtUpper := MustSqrtRatioAtTick(chunk.Upper)

	switch {
	case tick < chunk.Lower:
		amount0, err = Amount0ForLiquidity(sqrtLower, sqrtUpper, liquidity)
		amount1 = new(uint256.Int)
	case tick >= chunk.Upper:
		amount0 = new(uint256.Int)
		amount1, err = Amount1ForLiquidity(sqrtLower, sqrtUpper, liquidity)
	default:
		sqrtP, perr := SqrtRatioAtTick(tick)
		if perr != nil {
			return nil, nil, perr
		}
		amount0, err = Amount0ForLiquidity(sqrtP, sqrtUpper, liquidity)
		if err == nil {
			amount1, err = Amount1ForLiquidity(sqrtLower, sqrtP, liquidity)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

// FullRangeAmounts returns the chunk's amount0 when entirely below the price
// and amount1 when entirely above it.
func FullRangeAmounts(chunk Chunk, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	if err := chunk.Validate(); err != nil {
		return nil, nil, err
	}
	sqrtLower := MustSqrtRatioAtTick(chunk.Lower)
	sqrtUpper := MustSqrtRatioAtTick(chunk.Upper)
	if amount0, err = Amount0ForLiquidity(sqrtLower, sqrtUpper, liquidity); err != nil {
		return nil, nil, err
	}
	if amount1, err = Amount1ForLiquidity(sqrtLower, sqrtUpper, liquidity); err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}
