// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/parsdao/options/amm"
	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/config"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/state"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
	"github.com/parsdao/options/vault"
)

const (
	scenarioSize = 3_396_144_616
	startTick    = 100
	adverseTick  = -200
)

var (
	poolAddr   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	alice      = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob        = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	keeper     = common.HexToAddress("0xcafe000000000000000000000000000000000003")
	passiveLiq = uint256.NewInt(100_000_000_000)
)

type fixture struct {
	store *state.Store
	pool  *amm.Pool
	vault *vault.Store
	eng   *Engine
	reg   *prometheus.Registry
}

func newFixture(t *testing.T, modify func(*config.Config), opts ...Option) *fixture {
	t.Helper()
	require := require.New(t)

	db := memdb.New()
	t.Cleanup(func() { _ = db.Close() })
	store, err := state.New(db)
	require.NoError(err)

	pool := amm.NewPool(store, poolAddr, 10)
	require.NoError(pool.Initialize(startTick))
	v := vault.New(store, VaultAddress)

	cfg := config.Default()
	if modify != nil {
		modify(cfg)
	}
	reg := prometheus.NewRegistry()
	opts = append([]Option{WithLogger(log.NewNoOpLogger()), WithRegisterer(reg)}, opts...)
	eng, err := New(store, pool, v, cfg, opts...)
	require.NoError(err)

	f := &fixture{store: store, pool: pool, vault: v, eng: eng, reg: reg}
	require.NoError(eng.Deposit(PassivePoolAddress, 0, passiveLiq))
	require.NoError(eng.Deposit(PassivePoolAddress, 1, passiveLiq))
	return f
}

func putID(d tokenid.Direction, strike int32) tokenid.ID {
	return tokenid.MustEncode(tokenid.Position{
		Pool: tokenid.PoolRefFromAddress(poolAddr, 10),
		Legs: []tokenid.Leg{{Asset: 0, Ratio: 1, Direction: d, TokenType: tokenid.Put, Strike: strike, Width: 2}},
	})
}

func anyTick() (int32, int32) { return tickmath.MinTick, tickmath.MaxTick }

// openShortPut deposits token1 for account and sells the scenario put at
// strike 0.
func (f *fixture) openShortPut(t *testing.T, account common.Address, deposit uint64) tokenid.ID {
	t.Helper()
	require.NoError(t, f.eng.Deposit(account, 1, uint256.NewInt(deposit)))
	id := putID(tokenid.Short, 0)
	lo, hi := anyTick()
	require.NoError(t, f.eng.Mint(account, []tokenid.ID{id}, uint256.NewInt(scenarioSize), 0, lo, hi))
	return id
}

func (f *fixture) requireConserved(t *testing.T) {
	t.Helper()
	snap, err := f.eng.LedgerSnapshot()
	require.NoError(t, err)
	for token := uint8(0); token < 2; token++ {
		c := snap[token]
		require.True(t, c.Total.Eq(c.Deposited), "token %d", token)
		require.True(t, f.vault.Total(token).Eq(c.Total), "token %d", token)
	}
}

func notional(t *testing.T, id tokenid.ID, size uint64) *uint256.Int {
	t.Helper()
	pos, err := tokenid.Decode(id)
	require.NoError(t, err)
	exps, err := collateral.Exposures(pos, uint256.NewInt(size))
	require.NoError(t, err)
	return exps[0].Notional
}

func TestMintStoresPosition(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)

	list, err := f.eng.Positions(alice)
	require.NoError(err)
	require.Equal([]tokenid.ID{id}, list)

	bal, err := f.eng.PositionBalance(alice, id)
	require.NoError(err)
	require.Equal(uint64(scenarioSize), bal.Size.Uint64())
	require.NotZero(bal.Utilization[1])
	require.Less(bal.Utilization[1], uint64(collateral.BasisPoints))

	// commission went to the passive pool and was collected
	n := notional(t, id, scenarioSize)
	fee, err := tickmath.MulDivRoundingUp(n, uint256.NewInt(config.Default().CommissionBps), uint256.NewInt(collateral.BasisPoints))
	require.NoError(err)
	snap, err := f.eng.LedgerSnapshot()
	require.NoError(err)
	require.True(snap[1].Collected.Eq(fee))
	require.True(snap[1].InAMM.Eq(n))
	require.Equal(new(uint256.Int).Sub(uint256.NewInt(700_000_000), fee), f.vault.BalanceOf(alice, 1))

	net, _ := f.pool.ChunkLiquidity(tickmath.Chunk{Lower: -10, Upper: 10})
	require.False(net.IsZero())
	f.requireConserved(t)
}

func TestMintRejections(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MaxPositions = 2 })
	id := f.openShortPut(t, alice, 2_000_000_000)
	lo, hi := anyTick()
	size := uint256.NewInt(scenarioSize)
	other := putID(tokenid.Short, -100)

	tests := []struct {
		name string
		list []tokenid.ID
		size *uint256.Int
		want error
	}{
		{"zero size", []tokenid.ID{id, other}, new(uint256.Int), errs.ErrOptionsBalanceZero},
		{"stale list", []tokenid.ID{other}, size, errs.ErrInputListFail},
		{"reordered list", []tokenid.ID{other, id}, size, errs.ErrInputListFail},
		{"already minted", []tokenid.ID{id, id}, size, errs.ErrPositionAlreadyMinted},
		{"too many", []tokenid.ID{id, other, putID(tokenid.Short, -200)}, size, errs.ErrTooManyPositions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.eng.Mint(alice, tt.list, tt.size, 0, lo, hi)
			require.ErrorIs(t, err, tt.want)
		})
	}

	foreign := tokenid.MustEncode(tokenid.Position{
		Pool: tokenid.PoolRefFromAddress(common.HexToAddress("0x5555555555555555555555555555555555555555"), 10),
		Legs: []tokenid.Leg{{Ratio: 1, TokenType: tokenid.Put, Width: 2}},
	})
	require.ErrorIs(t, f.eng.Mint(alice, []tokenid.ID{id, foreign}, size, 0, lo, hi), errs.ErrInvalidLegParameter)

	require.NoError(t, f.eng.Mint(alice, []tokenid.ID{id, other}, size, 0, lo, hi))
	f.requireConserved(t)
}

func TestMintPriceBounds(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	require.NoError(f.eng.Deposit(alice, 1, uint256.NewInt(2_000_000_000)))

	// strike 200 puts are in the money at tick 100
	itm := putID(tokenid.Short, 200)
	err := f.eng.Mint(alice, []tokenid.ID{itm}, uint256.NewInt(scenarioSize), 0, 150, 300)
	var perr *errs.PriceBoundError
	require.ErrorAs(err, &perr)
	require.Equal(int32(startTick), perr.Tick)

	require.NoError(f.eng.Mint(alice, []tokenid.ID{itm}, uint256.NewInt(scenarioSize), 0, 50, 150))

	// out of the money positions only need ordered bounds
	otm := putID(tokenid.Short, -100)
	require.ErrorIs(f.eng.Mint(alice, []tokenid.ID{itm, otm}, uint256.NewInt(1_000), 0, 10, 5), errs.ErrPriceBoundFail)
	require.NoError(f.eng.Mint(alice, []tokenid.ID{itm, otm}, uint256.NewInt(1_000), 0, 500, 600))
}

func TestMintRevertsOnInsolvency(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	require.NoError(f.eng.Deposit(alice, 1, uint256.NewInt(100_000_000)))
	before, err := f.eng.LedgerSnapshot()
	require.NoError(err)

	lo, hi := anyTick()
	id := putID(tokenid.Short, 0)
	err = f.eng.Mint(alice, []tokenid.ID{id}, uint256.NewInt(scenarioSize), 0, lo, hi)
	var cerr *errs.CollateralError
	require.ErrorAs(err, &cerr)
	require.True(cerr.Available.Lt(cerr.Required))

	after, err := f.eng.LedgerSnapshot()
	require.NoError(err)
	require.Equal(before, after)
	require.Equal(uint64(100_000_000), f.vault.BalanceOf(alice, 1).Uint64())
	list, err := f.eng.Positions(alice)
	require.NoError(err)
	require.Empty(list)
	net, _ := f.pool.ChunkLiquidity(tickmath.Chunk{Lower: -10, Upper: 10})
	require.True(net.IsZero())
	bal, err := f.eng.PositionBalance(alice, id)
	require.NoError(err)
	require.False(bal.Held())
}

func TestEffectiveLiquidity(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	f.openShortPut(t, alice, 700_000_000)
	require.NoError(f.eng.Deposit(bob, 1, uint256.NewInt(1_000_000_000)))

	lo, hi := anyTick()
	long := putID(tokenid.Long, 0)

	// borrowing everything breaches the protocol threshold
	err := f.eng.Mint(bob, []tokenid.ID{long}, uint256.NewInt(scenarioSize), 0, lo, hi)
	var lerr *errs.EffectiveLiquidityError
	require.ErrorAs(err, &lerr)
	require.Equal(uint64(10_000), lerr.Actual)
	require.Equal(config.Default().MaxEffectiveLiquidityBps, lerr.Threshold)

	// half the chunk is fine under the protocol threshold but not a tighter limit
	half := uint256.NewInt(scenarioSize / 2)
	err = f.eng.Mint(bob, []tokenid.ID{long}, half, 4_000, lo, hi)
	require.ErrorAs(err, &lerr)
	require.Equal(uint64(4_000), lerr.Limit)
	require.ErrorIs(err, errs.ErrEffectiveLiquidityAboveThreshold)

	require.NoError(f.eng.Mint(bob, []tokenid.ID{long}, half, 0, lo, hi))
	_, removed := f.pool.ChunkLiquidity(tickmath.Chunk{Lower: -10, Upper: 10})
	require.False(removed.IsZero())
	f.requireConserved(t)
}

func TestBorrowWithoutSellers(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.eng.Deposit(bob, 1, uint256.NewInt(1_000_000_000)))
	lo, hi := anyTick()
	err := f.eng.Mint(bob, []tokenid.ID{putID(tokenid.Long, 0)}, uint256.NewInt(1_000), 0, lo, hi)
	require.ErrorIs(t, err, errs.ErrNotEnoughLiquidity)
}

func TestBurn(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)
	balance := f.vault.BalanceOf(alice, 1)

	require.ErrorIs(f.eng.Burn(alice, id, []tokenid.ID{id}, 0, 0), errs.ErrInputListFail)
	require.ErrorIs(f.eng.Burn(alice, putID(tokenid.Short, -100), nil, 0, 0), errs.ErrInputListFail)

	// out of the money: no exercise, bounds only need to be ordered
	require.NoError(f.eng.Burn(alice, id, nil, 0, 0))
	require.Equal(balance, f.vault.BalanceOf(alice, 1))

	list, err := f.eng.Positions(alice)
	require.NoError(err)
	require.Empty(list)
	snap, err := f.eng.LedgerSnapshot()
	require.NoError(err)
	require.True(snap[1].InAMM.IsZero())
	net, _ := f.pool.ChunkLiquidity(tickmath.Chunk{Lower: -10, Upper: 10})
	require.True(net.IsZero())
	f.requireConserved(t)
}

func TestBurnInTheMoneyPaysExercise(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)
	require.NoError(f.pool.Swap(adverseTick))

	before := f.vault.BalanceOf(alice, 1)
	collected, err := f.eng.LedgerSnapshot()
	require.NoError(err)

	require.ErrorIs(f.eng.Burn(alice, id, nil, 0, 100), errs.ErrPriceBoundFail)
	require.NoError(f.eng.Burn(alice, id, nil, -300, -100))

	after := f.vault.BalanceOf(alice, 1)
	require.True(after.Lt(before))
	paid := new(uint256.Int).Sub(before, after)

	snap, err := f.eng.LedgerSnapshot()
	require.NoError(err)
	require.True(new(uint256.Int).Sub(snap[1].Collected, collected[1].Collected).Eq(paid))
	f.requireConserved(t)
}

func TestWithdraw(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)

	require.ErrorIs(f.eng.Withdraw(alice, 1, uint256.NewInt(1), nil), errs.ErrInputListFail)
	require.ErrorIs(f.eng.Withdraw(alice, 1, uint256.NewInt(100_000_000), []tokenid.ID{id}), errs.ErrNotEnoughCollateral)
	require.ErrorIs(f.eng.Withdraw(alice, 0, uint256.NewInt(1), []tokenid.ID{id}), errs.ErrNotEnoughCollateral)

	require.NoError(f.eng.Withdraw(alice, 1, uint256.NewInt(1_000_000), []tokenid.ID{id}))
	f.requireConserved(t)
}

func TestLiquidationGate(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)
	lo, hi := anyTick()

	liquidatable, err := f.eng.IsLiquidatable(alice, []tokenid.ID{id})
	require.NoError(err)
	require.False(liquidatable)

	_, err = f.eng.Liquidate(keeper, alice, lo, hi, []tokenid.ID{id}, nil)
	require.ErrorIs(err, errs.ErrNotMarginCalled)
	_, err = f.eng.Liquidate(keeper, alice, lo, hi, nil, nil)
	require.ErrorIs(err, errs.ErrInputListFail)
	_, err = f.eng.Liquidate(keeper, alice, lo, hi, []tokenid.ID{id}, []tokenid.ID{id})
	require.ErrorIs(err, errs.ErrInputListFail)
	_, err = f.eng.Liquidate(alice, alice, lo, hi, []tokenid.ID{id}, []tokenid.ID{id})
	require.ErrorIs(err, errs.ErrInputListFail)
	require.Empty(f.eng.LiquidationHistory())
}

func TestShortPutLiquidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)
	list := []tokenid.ID{id}

	require.NoError(f.pool.Swap(adverseTick))
	liquidatable, err := f.eng.IsLiquidatable(alice, list)
	require.NoError(err)
	require.True(liquidatable)

	_, err = f.eng.Liquidate(keeper, alice, 0, 100, list, nil)
	require.ErrorIs(err, errs.ErrPriceBoundFail)

	aliceBefore := f.vault.BalanceOf(alice, 1)
	ev, err := f.eng.Liquidate(keeper, alice, -300, -100, list, nil)
	require.NoError(err)

	require.True(f.vault.BalanceOf(alice, 1).Lt(aliceBefore))
	require.False(f.vault.BalanceOf(keeper, 1).IsZero())
	require.True(f.vault.BalanceOf(keeper, 1).Eq(ev.Bonus[1]))
	require.True(ev.Bonus[0].IsZero())
	require.True(ev.Socialized[0].IsZero())
	require.True(ev.Socialized[1].IsZero())
	require.False(ev.ExerciseCost[1].IsZero())
	require.True(ev.Available.Lt(ev.Required))
	require.Equal(int32(adverseTick), ev.Tick)
	require.Equal(list, ev.Positions)

	// the account is closed
	stored, err := f.eng.Positions(alice)
	require.NoError(err)
	require.Empty(stored)
	bal, err := f.eng.PositionBalance(alice, id)
	require.NoError(err)
	require.False(bal.Held())
	liquidatable, err = f.eng.IsLiquidatable(alice, nil)
	require.NoError(err)
	require.False(liquidatable)
	_, err = f.eng.Liquidate(keeper, alice, -300, -100, list, nil)
	require.ErrorIs(err, errs.ErrInputListFail)

	snap, err := f.eng.LedgerSnapshot()
	require.NoError(err)
	require.True(snap[1].InAMM.IsZero())
	f.requireConserved(t)

	history := f.eng.LiquidationHistory()
	require.Len(history, 1)
	require.Equal(ev.ID, history[0].ID)
}

type allOfIt struct{}

func (allOfIt) Bonus(available, required *uint256.Int) (*uint256.Int, error) {
	return new(uint256.Int).Set(available), nil
}

func TestLiquidationBonusTakesRemainingCollateral(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil, WithBonusPolicy(allOfIt{}))
	id := f.openShortPut(t, alice, 700_000_000)
	require.NoError(f.pool.Swap(adverseTick))
	before := f.vault.BalanceOf(alice, 1)

	ev, err := f.eng.Liquidate(keeper, alice, -300, -100, []tokenid.ID{id}, nil)
	require.NoError(err)
	require.False(ev.ExerciseCost[1].IsZero())
	require.True(ev.Bonus[0].IsZero())
	require.False(ev.Bonus[1].IsZero())
	require.True(ev.Socialized[0].IsZero())
	require.True(ev.Socialized[1].IsZero())

	// the bonus comes out of what is left after the exercise cost
	remaining := new(uint256.Int).Sub(before, ev.ExerciseCost[1])
	require.Equal(remaining, new(uint256.Int).Add(f.vault.BalanceOf(alice, 1), ev.Bonus[1]))
	require.Equal(ev.Bonus[1], f.vault.BalanceOf(keeper, 1))
	f.requireConserved(t)
}

func TestLiquidationDeepMoveLeavesNoBonus(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)
	lo, hi := anyTick()
	require.NoError(f.pool.Swap(-3000))
	before := f.vault.BalanceOf(alice, 1)
	passiveBefore := f.vault.BalanceOf(PassivePoolAddress, 1)

	ev, err := f.eng.Liquidate(keeper, alice, lo, hi, []tokenid.ID{id}, nil)
	require.NoError(err)

	// the exercise loss exceeds the collateral, so nothing is left for a bonus
	require.Equal(before, ev.ExerciseCost[1])
	for token := 0; token < 2; token++ {
		require.True(ev.Bonus[token].IsZero(), "token %d", token)
		require.True(ev.Socialized[token].IsZero(), "token %d", token)
		require.True(f.vault.BalanceOf(alice, uint8(token)).IsZero(), "token %d", token)
		require.True(f.vault.BalanceOf(keeper, uint8(token)).IsZero(), "token %d", token)
	}
	require.Equal(new(uint256.Int).Add(passiveBefore, before), f.vault.BalanceOf(PassivePoolAddress, 1))
	f.requireConserved(t)
}

func TestValuateAtReferenceTick(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	id := f.openShortPut(t, alice, 700_000_000)
	list := []tokenid.ID{id}

	available, atStart, err := f.eng.Valuate(alice, startTick, 1, list)
	require.NoError(err)
	require.Equal(f.vault.BalanceOf(alice, 1), available)

	v, err := f.eng.Valuation(alice, list)
	require.NoError(err)
	curAvailable, curRequired, err := v.Collapse(1)
	require.NoError(err)
	require.Equal(curAvailable, available)
	require.Equal(curRequired, atStart)

	// requirements only grow as the price falls through the put's strike
	_, atAdverse, err := f.eng.Valuate(alice, adverseTick, 1, list)
	require.NoError(err)
	_, atDeep, err := f.eng.Valuate(alice, -3000, 1, list)
	require.NoError(err)
	require.True(atStart.Lt(atAdverse))
	require.True(atAdverse.Lt(atDeep))

	// valuing at a hypothetical tick leaves the pool alone
	require.Equal(int32(startTick), f.pool.CurrentTick())

	_, _, err = f.eng.Valuate(alice, startTick, 1, nil)
	require.ErrorIs(err, errs.ErrInputListFail)
	_, _, err = f.eng.Valuate(alice, startTick, 2, list)
	require.ErrorIs(err, errs.ErrInvalidLegParameter)
}

func TestLiquidatorMustBeSolvent(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	aliceID := f.openShortPut(t, alice, 700_000_000)

	// bob sells a put at the same strike with the same thin margin
	require.NoError(f.eng.Deposit(bob, 1, uint256.NewInt(700_000_000)))
	bobID := putID(tokenid.Short, 0)
	lo, hi := anyTick()
	require.NoError(f.eng.Mint(bob, []tokenid.ID{bobID}, uint256.NewInt(scenarioSize), 0, lo, hi))

	require.NoError(f.pool.Swap(adverseTick))
	_, err := f.eng.Liquidate(bob, alice, -300, -100, []tokenid.ID{aliceID}, []tokenid.ID{bobID})
	require.ErrorIs(err, errs.ErrNotEnoughCollateral)
}

func TestRoll(t *testing.T) {
	lo, hi := anyTick()

	t.Run("not a roll", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.openShortPut(t, alice, 700_000_000)
		require.ErrorIs(t, f.eng.Roll(alice, id, putID(tokenid.Long, -100), nil, lo, hi), errs.ErrNotATokenRoll)
		require.ErrorIs(t, f.eng.Roll(alice, id, id, nil, lo, hi), errs.ErrNotATokenRoll)
	})

	t.Run("not held", func(t *testing.T) {
		f := newFixture(t, nil)
		f.openShortPut(t, alice, 700_000_000)
		err := f.eng.Roll(alice, putID(tokenid.Short, -100), putID(tokenid.Short, -200), nil, lo, hi)
		require.ErrorIs(t, err, errs.ErrInputListFail)
	})

	t.Run("already held", func(t *testing.T) {
		f := newFixture(t, nil)
		id := f.openShortPut(t, alice, 2_000_000_000)
		other := putID(tokenid.Short, -100)
		require.NoError(t, f.eng.Mint(alice, []tokenid.ID{id, other}, uint256.NewInt(1_000), 0, lo, hi))
		require.ErrorIs(t, f.eng.Roll(alice, id, other, nil, lo, hi), errs.ErrPositionAlreadyMinted)
	})

	t.Run("out of the money", func(t *testing.T) {
		require := require.New(t)
		f := newFixture(t, nil)
		id := f.openShortPut(t, alice, 700_000_000)
		next := putID(tokenid.Short, -100)

		require.NoError(f.eng.Roll(alice, id, next, nil, lo, hi))
		list, err := f.eng.Positions(alice)
		require.NoError(err)
		require.Equal([]tokenid.ID{next}, list)
		bal, err := f.eng.PositionBalance(alice, next)
		require.NoError(err)
		require.Equal(uint64(scenarioSize), bal.Size.Uint64())
		old, err := f.eng.PositionBalance(alice, id)
		require.NoError(err)
		require.False(old.Held())

		snap, err := f.eng.LedgerSnapshot()
		require.NoError(err)
		require.True(snap[1].InAMM.Eq(notional(t, next, scenarioSize)))
		net, _ := f.pool.ChunkLiquidity(tickmath.Chunk{Lower: -10, Upper: 10})
		require.True(net.IsZero())
		f.requireConserved(t)
	})

	t.Run("stale list while out of the money", func(t *testing.T) {
		require := require.New(t)
		f := newFixture(t, nil)
		id := f.openShortPut(t, alice, 700_000_000)
		next := putID(tokenid.Short, -100)

		stale := []tokenid.ID{putID(tokenid.Short, -500), putID(tokenid.Short, -700)}
		require.ErrorIs(f.eng.Roll(alice, id, next, stale, lo, hi), errs.ErrInputListFail)
		list, err := f.eng.Positions(alice)
		require.NoError(err)
		require.Equal([]tokenid.ID{id}, list)

		require.NoError(f.eng.Roll(alice, id, next, []tokenid.ID{id}, lo, hi))
	})

	t.Run("in the money", func(t *testing.T) {
		require := require.New(t)
		f := newFixture(t, nil)
		id := f.openShortPut(t, alice, 1_000_000_000)
		require.NoError(f.pool.Swap(adverseTick))
		next := putID(tokenid.Short, -300)

		require.ErrorIs(f.eng.Roll(alice, id, next, nil, lo, hi), errs.ErrOptionsNotOTM)
		require.ErrorIs(f.eng.Roll(alice, id, next, []tokenid.ID{next}, lo, hi), errs.ErrInputListFail)
		require.ErrorIs(f.eng.Roll(alice, id, next, []tokenid.ID{id}, 0, 100), errs.ErrPriceBoundFail)

		before := f.vault.BalanceOf(alice, 1)
		require.NoError(f.eng.Roll(alice, id, next, []tokenid.ID{id}, -300, -100))
		require.True(f.vault.BalanceOf(alice, 1).Lt(before))
		list, err := f.eng.Positions(alice)
		require.NoError(err)
		require.Equal([]tokenid.ID{next}, list)
		f.requireConserved(t)
	})
}

func TestRollKeepsListOrder(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	lo, hi := anyTick()
	first := f.openShortPut(t, alice, 2_000_000_000)
	second := putID(tokenid.Short, -100)
	require.NoError(f.eng.Mint(alice, []tokenid.ID{first, second}, uint256.NewInt(1_000), 0, lo, hi))

	next := putID(tokenid.Short, -50)
	require.NoError(f.eng.Roll(alice, first, next, nil, lo, hi))
	list, err := f.eng.Positions(alice)
	require.NoError(err)
	require.Equal([]tokenid.ID{next, second}, list)

	require.NoError(f.eng.Burn(alice, second, []tokenid.ID{next}, lo, hi))
}

// reentrantAMM calls back into the engine while moving liquidity.
type reentrantAMM struct {
	*amm.Pool
	eng *Engine
	err error
}

func (r *reentrantAMM) MoveNotional(c tickmath.Chunk, m amm.Move, l *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	r.err = r.eng.Deposit(bob, 1, uint256.NewInt(1))
	return r.Pool.MoveNotional(c, m, l)
}

func TestReentrancyRejected(t *testing.T) {
	require := require.New(t)
	db := memdb.New()
	defer db.Close()
	store, err := state.New(db)
	require.NoError(err)
	pool := amm.NewPool(store, poolAddr, 10)
	require.NoError(pool.Initialize(startTick))

	wrapped := &reentrantAMM{Pool: pool}
	eng, err := New(store, wrapped, vault.New(store, VaultAddress), nil, WithLogger(log.NewNoOpLogger()))
	require.NoError(err)
	wrapped.eng = eng

	require.NoError(eng.Deposit(PassivePoolAddress, 1, passiveLiq))
	require.NoError(eng.Deposit(alice, 1, uint256.NewInt(700_000_000)))
	lo, hi := anyTick()
	require.NoError(eng.Mint(alice, []tokenid.ID{putID(tokenid.Short, 0)}, uint256.NewInt(scenarioSize), 0, lo, hi))
	require.ErrorIs(wrapped.err, errs.ErrReentrant)
	require.True(eng.vault.BalanceOf(bob, 1).IsZero())
}

// closeWatchAMM records the liquidatee's stored state at the first liquidity
// move once armed.
type closeWatchAMM struct {
	*amm.Pool
	eng     *Engine
	account common.Address
	armed   bool
	moves   int
	hash    common.Hash
	list    []tokenid.ID
	history int
}

func (w *closeWatchAMM) MoveNotional(c tickmath.Chunk, m amm.Move, l *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if w.armed {
		if w.moves == 0 {
			w.hash = w.eng.storedHash(w.account)
			w.list = w.eng.storedList(w.account)
			w.history = len(w.eng.LiquidationHistory())
		}
		w.moves++
	}
	return w.Pool.MoveNotional(c, m, l)
}

func TestLiquidationClosesAccountBeforeMovingLiquidity(t *testing.T) {
	require := require.New(t)
	db := memdb.New()
	defer db.Close()
	store, err := state.New(db)
	require.NoError(err)
	pool := amm.NewPool(store, poolAddr, 10)
	require.NoError(pool.Initialize(startTick))

	watch := &closeWatchAMM{Pool: pool, account: alice}
	eng, err := New(store, watch, vault.New(store, VaultAddress), nil, WithLogger(log.NewNoOpLogger()))
	require.NoError(err)
	watch.eng = eng

	require.NoError(eng.Deposit(PassivePoolAddress, 0, passiveLiq))
	require.NoError(eng.Deposit(PassivePoolAddress, 1, passiveLiq))
	require.NoError(eng.Deposit(alice, 1, uint256.NewInt(700_000_000)))
	id := putID(tokenid.Short, 0)
	lo, hi := anyTick()
	require.NoError(eng.Mint(alice, []tokenid.ID{id}, uint256.NewInt(scenarioSize), 0, lo, hi))
	require.NotEqual(tokenid.EmptyListHash, eng.storedHash(alice))

	require.NoError(pool.Swap(adverseTick))
	watch.armed = true
	_, err = eng.Liquidate(keeper, alice, lo, hi, []tokenid.ID{id}, nil)
	require.NoError(err)

	require.Positive(watch.moves)
	require.Equal(tokenid.EmptyListHash, watch.hash)
	require.Empty(watch.list)
	require.Zero(watch.history)
	require.Len(eng.LiquidationHistory(), 1)
}

func TestMetricsRecorded(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, nil)
	f.openShortPut(t, alice, 700_000_000)
	require.ErrorIs(f.eng.Burn(alice, putID(tokenid.Short, -100), nil, 0, 0), errs.ErrInputListFail)

	families, err := f.reg.Gather()
	require.NoError(err)
	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	require.True(names["options_ops_applied_total"])
	require.True(names["options_ops_rejected_total"])
	require.True(names["options_pool_utilization_bps"])
}
