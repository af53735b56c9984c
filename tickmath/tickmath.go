// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tickmath converts between ticks, Q64.96 square-root prices, liquidity
// and token amounts for a concentrated-liquidity pool.
//
// price(tick) = 1.0001^tick, sqrtPriceX96 = sqrt(price) * 2^96.
package tickmath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Tick bounds of the underlying AMM
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	ErrTickOutOfRange   = errors.New("tick out of range")
	ErrInvalidTickRange = errors.New("invalid tick range")
)

// Constants for math
var (
	Q96  = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	Q192 = new(uint256.Int).Lsh(uint256.NewInt(1), 192)

	MinSqrtRatio = uint256.NewInt(4295128739)
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")

	maxUint256 = new(uint256.Int).SetAllOne()
	mask32     = uint256.NewInt(0xffffffff)
)

// sqrt(1.0001^-(2^i)) in Q128.128 for i = 0..19
var sqrtMagics = [20]*uint256.Int{
	uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96, rounded up.
func SqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	var ratio *uint256.Int
	if absTick&1 != 0 {
		ratio = new(uint256.Int).Set(sqrtMagics[0])
	} else {
		ratio = new(uint256.Int).Set(Q128)
	}
	for i := 1; i < len(sqrtMagics); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, sqrtMagics[i])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio = new(uint256.Int).Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so that TickAtSqrtRatio is consistent
	result := new(uint256.Int).Rsh(ratio, 32)
	if !new(uint256.Int).And(ratio, mask32).IsZero() {
		result.AddUint64(result, 1)
	}
	return result, nil
}

// MustSqrtRatioAtTick is SqrtRatioAtTick for ticks already known to be in range.
func MustSqrtRatioAtTick(tick int32) *uint256.Int {
	r, err := SqrtRatioAtTick(tick)
	if err != nil {
		panic(err)
	}
	return r
}

// TickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
// Binary search over SqrtRatioAtTick, which is exact and monotone.
func TickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || !sqrtPriceX96.Lt(MaxSqrtRatio) {
		return 0, fmt.Errorf("%w: sqrt price %s", ErrTickOutOfRange, sqrtPriceX96.Dec())
	}

	low, high := MinTick, MaxTick
	for low < high {
		mid := low + (high-low+1)/2
		if MustSqrtRatioAtTick(mid).Cmp(sqrtPriceX96) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low, nil
}
