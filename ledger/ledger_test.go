// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/state"
)

var ledgerAddr = common.HexToAddress("0x0000000000000000000000000000000000009100")

func newTestLedger(t *testing.T) (*Ledger, *state.Store) {
	t.Helper()
	db := memdb.New()
	t.Cleanup(func() { _ = db.Close() })
	s, err := state.New(db)
	require.NoError(t, err)
	return New(s, ledgerAddr), s
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestLedgerFlow(t *testing.T) {
	require := require.New(t)
	l, _ := newTestLedger(t)

	require.NoError(l.Deposit(1, u(10_000)))
	require.NoError(l.MoveToAMM(1, u(2_500)))

	c := l.Counters(1)
	require.Equal(uint64(10_000), c.Deposited.Uint64())
	require.Equal(uint64(7_500), c.Idle.Uint64())
	require.Equal(uint64(2_500), c.InAMM.Uint64())
	require.Equal(uint64(10_000), c.Total.Uint64())
	require.Equal(uint64(2_500), c.UtilizationBps)

	require.NoError(l.MoveFromAMM(1, u(500)))
	require.Equal(uint64(2_000), l.Utilization(1))

	require.NoError(l.Collect(1, u(30)))
	c = l.Counters(1)
	require.Equal(uint64(30), c.Collected.Uint64())
	require.True(c.Total.Eq(c.Deposited))

	require.NoError(l.Withdraw(1, u(8_000)))
	c = l.Counters(1)
	require.Equal(uint64(2_000), c.Total.Uint64())
	require.Equal(uint64(10_000), c.UtilizationBps)

	// token0 untouched
	require.True(l.Counters(0).Total.IsZero())
	require.Equal(uint64(0), l.Utilization(0))
}

func TestLedgerBounds(t *testing.T) {
	require := require.New(t)
	l, s := newTestLedger(t)

	require.NoError(l.Deposit(0, u(100)))
	require.NoError(l.MoveToAMM(0, u(60)))

	snap := s.Snapshot()
	require.ErrorIs(l.MoveToAMM(0, u(41)), errs.ErrUnderOverFlow)
	require.ErrorIs(l.MoveFromAMM(0, u(61)), errs.ErrUnderOverFlow)
	require.ErrorIs(l.Withdraw(0, u(41)), errs.ErrUnderOverFlow)
	require.ErrorIs(l.Deposit(2, u(1)), errs.ErrInvalidLegParameter)
	require.Equal(snap, s.Snapshot(), "failed updates must not write")

	allOnes := new(uint256.Int).SetAllOne()
	require.ErrorIs(l.Deposit(0, allOnes), errs.ErrUnderOverFlow)

	require.NoError(l.Withdraw(0, u(0)))
}
