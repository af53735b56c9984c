// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package collateral

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

// Exposure is the size-dependent shape of one leg: the liquidity it moves and
// its notional in the collateral token.
type Exposure struct {
	Leg       tokenid.Leg
	Token     uint8
	Chunk     tickmath.Chunk
	Liquidity *uint256.Int

	// Notional is the chunk's full-range amount of Token.
	Notional *uint256.Int
}

// NewExposure sizes leg for a position of size contracts.
func NewExposure(leg tokenid.Leg, tickSpacing int32, size *uint256.Int) (*Exposure, error) {
	chunk, err := leg.TickRange(tickSpacing)
	if err != nil {
		return nil, err
	}
	if size.BitLen() > 128 {
		return nil, errs.Overflow("position size exceeds uint128")
	}
	amount := new(uint256.Int).Mul(size, uint256.NewInt(uint64(leg.Ratio)))

	sqrtLower := tickmath.MustSqrtRatioAtTick(chunk.Lower)
	sqrtUpper := tickmath.MustSqrtRatioAtTick(chunk.Upper)
	var liquidity *uint256.Int
	if leg.Asset == 0 {
		liquidity, err = tickmath.LiquidityForAmount0(sqrtLower, sqrtUpper, amount)
	} else {
		liquidity, err = tickmath.LiquidityForAmount1(sqrtLower, sqrtUpper, amount)
	}
	if err != nil {
		return nil, err
	}

	full0, full1, err := tickmath.FullRangeAmounts(chunk, liquidity)
	if err != nil {
		return nil, err
	}
	e := &Exposure{
		Leg:       leg,
		Token:     leg.TokenType.Token(),
		Chunk:     chunk,
		Liquidity: liquidity,
		Notional:  full0,
	}
	if e.Token == 1 {
		e.Notional = full1
	}
	return e, nil
}

// InTheMoney reports whether the chunk holds any of the non-collateral token
// at tick.
func (e *Exposure) InTheMoney(tick int32) bool {
	if e.Token == 1 {
		return tick < e.Chunk.Upper
	}
	return tick >= e.Chunk.Lower
}

// LossAt returns the exercise loss at tick: notional minus the chunk's value
// at tick expressed in the collateral token, floored at zero.
func (e *Exposure) LossAt(tick int32) (*uint256.Int, error) {
	if !e.InTheMoney(tick) {
		return new(uint256.Int), nil
	}
	a0, a1, err := tickmath.AmountsAtTick(tick, e.Chunk, e.Liquidity)
	if err != nil {
		return nil, err
	}
	sqrtP, err := tickmath.SqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}

	held, other := a0, a1
	if e.Token == 1 {
		held, other = a1, a0
	}
	converted, err := tickmath.Convert(other, 1-e.Token, e.Token, sqrtP, false)
	if err != nil {
		return nil, err
	}
	value, overflow := new(uint256.Int).AddOverflow(held, converted)
	if overflow {
		return nil, errs.Overflow("leg value")
	}
	if !value.Lt(e.Notional) {
		return new(uint256.Int), nil
	}
	return value.Sub(e.Notional, value), nil
}

// Exposures sizes every leg of p.
func Exposures(p tokenid.Position, size *uint256.Int) ([]*Exposure, error) {
	out := make([]*Exposure, len(p.Legs))
	for i, leg := range p.Legs {
		e, err := NewExposure(leg, p.Pool.TickSpacing(), size)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		out[i] = e
	}
	return out, nil
}

// InTheMoney reports whether any leg of p is in the money at tick.
func InTheMoney(p tokenid.Position, tick int32) (bool, error) {
	chunks, err := p.Chunks()
	if err != nil {
		return false, err
	}
	for i, leg := range p.Legs {
		e := Exposure{Token: leg.TokenType.Token(), Chunk: chunks[i]}
		if e.InTheMoney(tick) {
			return true, nil
		}
	}
	return false, nil
}
