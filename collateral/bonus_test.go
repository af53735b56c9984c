// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package collateral

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/parsdao/options/tickmath"
)

func TestCappedBonus(t *testing.T) {
	b := CappedBonus{MaxBonusBps: 1_000}
	available := uint256.NewInt(10_000)

	bonus, err := b.Bonus(available, uint256.NewInt(9_000))
	require.NoError(t, err)
	require.True(t, bonus.IsZero(), "solvent accounts earn no bonus")

	bonus, err = b.Bonus(available, uint256.NewInt(10_400))
	require.NoError(t, err)
	require.Equal(t, uint64(400), bonus.Uint64())

	bonus, err = b.Bonus(available, uint256.NewInt(50_000))
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), bonus.Uint64())

	_, err = CappedBonus{MaxBonusBps: 10_001}.Bonus(available, available)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestCappedBonusMonotoneAndBounded(t *testing.T) {
	b := CappedBonus{MaxBonusBps: 2_500}
	available := uint256.NewInt(1_000_000)
	prev := new(uint256.Int)
	for required := uint64(900_000); required <= 3_000_000; required += 7_919 {
		bonus, err := b.Bonus(available, uint256.NewInt(required))
		require.NoError(t, err)
		require.False(t, bonus.Lt(prev))
		require.False(t, bonus.Gt(available))
		prev = bonus
	}
}

func TestSplitByValue(t *testing.T) {
	sqrtP := tickmath.MustSqrtRatioAtTick(0)

	part0, part1, err := SplitByValue(uint256.NewInt(100), [2]*uint256.Int{uint256.NewInt(300), uint256.NewInt(100)}, sqrtP)
	require.NoError(t, err)
	require.Equal(t, uint64(75), part0.Uint64())
	require.Equal(t, uint64(25), part1.Uint64())

	part0, part1, err = SplitByValue(uint256.NewInt(100), [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}, sqrtP)
	require.NoError(t, err)
	require.Equal(t, uint64(100), part0.Uint64())
	require.True(t, part1.IsZero())
}
