// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package collateral

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

var testPool = tokenid.PoolRefFromAddress(common.HexToAddress("0x4444444444444444444444444444444444444444"), 10)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultParams())
	require.NoError(t, err)
	return c
}

func leg(tt tokenid.TokenType, d tokenid.Direction, strike int32, partner uint8) tokenid.Leg {
	return tokenid.Leg{Asset: 0, Ratio: 1, Direction: d, TokenType: tt, RiskPartner: partner, Strike: strike, Width: 2}
}

func holding(size uint64, legs ...tokenid.Leg) Holding {
	p := tokenid.Position{Pool: testPool, Legs: legs}
	return Holding{ID: tokenid.MustEncode(p), Position: p, Size: uint256.NewInt(size)}
}

func TestRatios(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Verify())

	require.Equal(t, uint64(2_000), p.SellRatio(0))
	require.Equal(t, uint64(2_000), p.SellRatio(5_000))
	require.Equal(t, uint64(6_000), p.SellRatio(7_000))
	require.Equal(t, uint64(10_000), p.SellRatio(9_000))
	require.Equal(t, uint64(10_000), p.SellRatio(10_000))

	require.Equal(t, uint64(1_000), p.BuyRatio(0))
	require.Equal(t, uint64(750), p.BuyRatio(4_500))
	require.Equal(t, uint64(500), p.BuyRatio(9_000))
	require.Equal(t, uint64(500), p.BuyRatio(10_000))

	bad := p
	bad.TargetUtilizationBps = bad.SaturatedUtilizationBps
	require.ErrorIs(t, bad.Verify(), ErrInvalidParams)
	bad = p
	bad.SellCollateralBps = 0
	require.ErrorIs(t, bad.Verify(), ErrInvalidParams)
}

func TestShortPutOutOfTheMoney(t *testing.T) {
	c := newTestCalculator(t)
	h := holding(1_000_000_000, leg(tokenid.Put, tokenid.Short, 0, 0))

	e, err := NewExposure(h.Position.Legs[0], 10, h.Size)
	require.NoError(t, err)
	require.Equal(t, tickmath.Chunk{Lower: -10, Upper: 10}, e.Chunk)
	require.False(t, e.InTheMoney(10))
	require.True(t, e.InTheMoney(9))

	req, err := c.Requirement(h, 100)
	require.NoError(t, err)
	base, err := mulBpsUp(e.Notional, 2_000)
	require.NoError(t, err)
	require.True(t, req[1].Eq(base), "want %s got %s", base.Dec(), req[1].Dec())
	require.True(t, req[0].IsZero())
}

func TestHealthMonotonicity(t *testing.T) {
	c := newTestCalculator(t)

	t.Run("short put", func(t *testing.T) {
		h := holding(3_396_144_616, leg(tokenid.Put, tokenid.Short, 0, 0))
		prev := new(uint256.Int)
		for tick := int32(1_000); tick >= -3_000; tick -= 10 {
			req, err := c.Requirement(h, tick)
			require.NoError(t, err)
			require.False(t, req[1].Lt(prev), "tick %d: %s < %s", tick, req[1].Dec(), prev.Dec())
			prev = req[1]
		}
	})

	t.Run("short call", func(t *testing.T) {
		h := holding(3_396_144_616, leg(tokenid.Call, tokenid.Short, 0, 0))
		prev := new(uint256.Int)
		for tick := int32(-1_000); tick <= 3_000; tick += 10 {
			req, err := c.Requirement(h, tick)
			require.NoError(t, err)
			require.False(t, req[0].Lt(prev), "tick %d: %s < %s", tick, req[0].Dec(), prev.Dec())
			prev = req[0]
		}
	})
}

func TestLossGrowsInTheMoney(t *testing.T) {
	e, err := NewExposure(leg(tokenid.Put, tokenid.Short, 0, 0), 10, uint256.NewInt(1_000_000_000))
	require.NoError(t, err)

	otm, err := e.LossAt(10)
	require.NoError(t, err)
	require.True(t, otm.IsZero())

	itm, err := e.LossAt(-300)
	require.NoError(t, err)
	require.False(t, itm.IsZero())

	worst, err := e.LossAt(tickmath.MinTick)
	require.NoError(t, err)
	require.True(t, worst.Gt(itm))
	require.False(t, worst.Gt(e.Notional))
}

func TestLoneLongPaysBuyRatio(t *testing.T) {
	c := newTestCalculator(t)
	h := holding(1_000_000_000, leg(tokenid.Put, tokenid.Long, 0, 0))
	e, err := NewExposure(h.Position.Legs[0], 10, h.Size)
	require.NoError(t, err)

	// deep in the money: the long's credit is not usable on its own
	req, err := c.Requirement(h, -5_000)
	require.NoError(t, err)
	want, err := mulBpsUp(e.Notional, 1_000)
	require.NoError(t, err)
	require.True(t, req[1].Eq(want))
}

func TestSpreadNetting(t *testing.T) {
	c := newTestCalculator(t)
	const size = 1_000_000_000

	spread := holding(size,
		leg(tokenid.Put, tokenid.Short, 0, 1),
		leg(tokenid.Put, tokenid.Long, -100, 0),
	)
	independent := holding(size,
		leg(tokenid.Put, tokenid.Short, 0, 0),
		leg(tokenid.Put, tokenid.Long, -100, 1),
	)

	for _, tick := range []int32{500, 0, -50, -100, -400, -2_000} {
		s, err := c.Requirement(spread, tick)
		require.NoError(t, err)
		i, err := c.Requirement(independent, tick)
		require.NoError(t, err)
		require.False(t, s[1].Gt(i[1]), "tick %d: spread %s > independent %s", tick, s[1].Dec(), i[1].Dec())
	}

	// deep in the money the spread's loss is capped by the long leg
	s, err := c.Requirement(spread, -5_000)
	require.NoError(t, err)
	i, err := c.Requirement(independent, -5_000)
	require.NoError(t, err)
	require.True(t, s[1].Lt(i[1]))

	// past both strikes the spread owes the strike-width loss plus the long's
	// buy requirement. Both legs are fully exercised at the spread's tick, at
	// the long's lower bound and at MinTick, so the worst net loss is one of those.
	exps, err := Exposures(spread.Position, spread.Size)
	require.NoError(t, err)
	short, long := exps[0], exps[1]
	worst := new(uint256.Int)
	for _, at := range []int32{-5_000, long.Chunk.Lower, tickmath.MinTick} {
		ls, err := short.LossAt(at)
		require.NoError(t, err)
		ll, err := long.LossAt(at)
		require.NoError(t, err)
		if ls.Gt(ll) && new(uint256.Int).Sub(ls, ll).Gt(worst) {
			worst.Sub(ls, ll)
		}
	}
	width := new(uint256.Int).Sub(short.Notional, long.Notional)
	require.False(t, worst.Lt(width))
	buy, err := mulBpsUp(long.Notional, 1_000)
	require.NoError(t, err)
	require.True(t, s[1].Eq(new(uint256.Int).Add(worst, buy)), "spread %s, want %s + %s", s[1].Dec(), worst.Dec(), buy.Dec())
}

func TestShortStrangleHalvesBase(t *testing.T) {
	c := newTestCalculator(t)
	const size = 1_000_000_000

	strangle := holding(size,
		leg(tokenid.Put, tokenid.Short, -100, 1),
		leg(tokenid.Call, tokenid.Short, 100, 0),
	)
	independent := holding(size,
		leg(tokenid.Put, tokenid.Short, -100, 0),
		leg(tokenid.Call, tokenid.Short, 100, 1),
	)

	s, err := c.Requirement(strangle, 0)
	require.NoError(t, err)
	i, err := c.Requirement(independent, 0)
	require.NoError(t, err)
	for token := 0; token < 2; token++ {
		half := new(uint256.Int).AddUint64(i[token], 1)
		half.Rsh(half, 1)
		require.True(t, s[token].Eq(half), "token %d: %s vs %s", token, s[token].Dec(), i[token].Dec())
	}
}

func TestUtilizationRaisesRequirement(t *testing.T) {
	c := newTestCalculator(t)
	low := holding(1_000_000_000, leg(tokenid.Put, tokenid.Short, 0, 0))
	high := low
	high.Utilization = [2]uint64{0, 9_500}

	l, err := c.Requirement(low, 100)
	require.NoError(t, err)
	h, err := c.Requirement(high, 100)
	require.NoError(t, err)
	require.True(t, h[1].Gt(l[1]))
}

func TestRequirementOverflow(t *testing.T) {
	c := newTestCalculator(t)
	h := holding(1, leg(tokenid.Put, tokenid.Short, 0, 0))
	h.Size = new(uint256.Int).Lsh(uint256.NewInt(1), 130)
	_, err := c.Requirement(h, 0)
	require.ErrorIs(t, err, errs.ErrUnderOverFlow)
}

func TestValuationCollapse(t *testing.T) {
	c := newTestCalculator(t)
	v, err := c.Valuate([2]*uint256.Int{uint256.NewInt(100), uint256.NewInt(200)}, nil, 0)
	require.NoError(t, err)
	v.Required = [2]*uint256.Int{uint256.NewInt(50), uint256.NewInt(60)}

	available, required, err := v.Collapse(0)
	require.NoError(t, err)
	require.Equal(t, uint64(300), available.Uint64())
	require.Equal(t, uint64(110), required.Uint64())

	ok, err := v.Solvent()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, v.CheckSolvent())

	v.Required[1] = uint256.NewInt(500)
	ok, err = v.Solvent()
	require.NoError(t, err)
	require.False(t, ok)

	var cerr *errs.CollateralError
	require.ErrorAs(t, v.CheckSolvent(), &cerr)
	require.ErrorIs(t, v.CheckSolvent(), errs.ErrNotEnoughCollateral)
	require.Equal(t, uint64(300), cerr.Available.Uint64())
	require.Equal(t, uint64(550), cerr.Required.Uint64())
}

func TestInTheMoney(t *testing.T) {
	p := tokenid.Position{Pool: testPool, Legs: []tokenid.Leg{leg(tokenid.Put, tokenid.Short, 0, 0)}}
	itm, err := InTheMoney(p, 20)
	require.NoError(t, err)
	require.False(t, itm)
	itm, err = InTheMoney(p, -20)
	require.NoError(t, err)
	require.True(t, itm)
}
