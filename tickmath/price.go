// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tickmath

import (
	"github.com/holiman/uint256"
)

var q64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

// priceTerms returns (price * 2^128, nil) when sqrtPriceX96 >= 2^128, otherwise
// (nil, sqrtPrice^2), which is price * 2^192 and still fits in 256 bits.
func priceTerms(sqrtPriceX96 *uint256.Int) (priceX128, priceX192 *uint256.Int, err error) {
	if sqrtPriceX96.Lt(Q128) {
		return nil, new(uint256.Int).Mul(sqrtPriceX96, sqrtPriceX96), nil
	}
	p, err := MulDiv(sqrtPriceX96, sqrtPriceX96, q64)
	if err != nil {
		return nil, nil, err
	}
	return p, nil, nil
}

// Convert0To1 converts a token0 amount to token1 at the given price.
func Convert0To1(amount, sqrtPriceX96 *uint256.Int, roundUp bool) (*uint256.Int, error) {
	pX128, pX192, err := priceTerms(sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	muldiv := MulDiv
	if roundUp {
		muldiv = MulDivRoundingUp
	}
	if pX192 != nil {
		return muldiv(amount, pX192, Q192)
	}
	return muldiv(amount, pX128, Q128)
}

// Convert1To0 converts a token1 amount to token0 at the given price.
func Convert1To0(amount, sqrtPriceX96 *uint256.Int, roundUp bool) (*uint256.Int, error) {
	pX128, pX192, err := priceTerms(sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	muldiv := MulDiv
	if roundUp {
		muldiv = MulDivRoundingUp
	}
	if pX192 != nil {
		return muldiv(amount, Q192, pX192)
	}
	return muldiv(amount, Q128, pX128)
}

// Convert converts amount held in token `from` into the other token.
// from == to returns a copy.
func Convert(amount *uint256.Int, from, to uint8, sqrtPriceX96 *uint256.Int, roundUp bool) (*uint256.Int, error) {
	switch {
	case from == to:
		return new(uint256.Int).Set(amount), nil
	case from == 0:
		return Convert0To1(amount, sqrtPriceX96, roundUp)
	default:
		return Convert1To0(amount, sqrtPriceX96, roundUp)
	}
}
