// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/amm"
	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
)

// flow accumulates notional moving between idle collateral and the AMM. Only
// the per-token net reaches the ledger.
type flow struct {
	toAMM   [2]*uint256.Int
	fromAMM [2]*uint256.Int
}

func newFlow() *flow {
	return &flow{
		toAMM:   [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
		fromAMM: [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
	}
}

// leg records one leg being opened or closed.
func (f *flow) leg(exp *collateral.Exposure, open bool) error {
	// a short moves collateral into the AMM when opened, a long when closed
	in := open != exp.Leg.IsLong()
	side := f.fromAMM[exp.Token]
	if in {
		side = f.toAMM[exp.Token]
	}
	if _, overflow := side.AddOverflow(side, exp.Notional); overflow {
		return errs.Overflow("ledger flow")
	}
	return nil
}

func (e *Engine) applyFlow(f *flow) error {
	for token := uint8(0); token < 2; token++ {
		in, out := f.toAMM[token], f.fromAMM[token]
		var err error
		if out.Lt(in) {
			err = e.ledger.MoveToAMM(token, new(uint256.Int).Sub(in, out))
		} else {
			err = e.ledger.MoveFromAMM(token, new(uint256.Int).Sub(out, in))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// moveLegs opens or closes every exposure in the AMM and records the ledger
// flow. It does not touch the ledger itself. Opening a long leg first checks
// the chunk's effective liquidity against limitBps (0 means the protocol
// maximum).
func (e *Engine) moveLegs(exps []*collateral.Exposure, open bool, limitBps uint64, f *flow) error {
	for i, exp := range exps {
		m := amm.Closing(exp.Leg.Direction)
		if open {
			m = amm.Opening(exp.Leg.Direction)
		}
		if m == amm.Borrow {
			if err := e.checkEffectiveLiquidity(exp, limitBps); err != nil {
				return fmt.Errorf("leg %d: %w", i, err)
			}
		}
		if _, _, err := e.amm.MoveNotional(exp.Chunk, m, exp.Liquidity); err != nil {
			return fmt.Errorf("leg %d %s: %w", i, m, err)
		}
		if err := f.leg(exp, open); err != nil {
			return err
		}
	}
	return nil
}

// checkEffectiveLiquidity rejects a borrow that would leave more than the
// threshold share of the chunk removed: (removed+L)*10000/(net+removed).
func (e *Engine) checkEffectiveLiquidity(exp *collateral.Exposure, limitBps uint64) error {
	net, removed := e.amm.ChunkLiquidity(exp.Chunk)
	if net.Lt(exp.Liquidity) {
		return fmt.Errorf("%w: chunk [%d,%d) has %s, needs %s",
			errs.ErrNotEnoughLiquidity, exp.Chunk.Lower, exp.Chunk.Upper, net.Dec(), exp.Liquidity.Dec())
	}
	after, overflow := new(uint256.Int).AddOverflow(removed, exp.Liquidity)
	if overflow {
		return errs.Overflow("removed liquidity")
	}
	gross, overflow := new(uint256.Int).AddOverflow(net, removed)
	if overflow {
		return errs.Overflow("gross liquidity")
	}
	if gross.IsZero() {
		return fmt.Errorf("%w: empty chunk [%d,%d)", errs.ErrNotEnoughLiquidity, exp.Chunk.Lower, exp.Chunk.Upper)
	}
	ratio, err := tickmath.MulDiv(after, uint256.NewInt(collateral.BasisPoints), gross)
	if err != nil {
		return err
	}

	protocolMax := e.cfg.MaxEffectiveLiquidityBps
	threshold := protocolMax
	if limitBps != 0 && limitBps < threshold {
		threshold = limitBps
	}
	if ratio.GtUint64(threshold) {
		actual := ratio.Uint64()
		if !ratio.IsUint64() {
			actual = ^uint64(0)
		}
		return &errs.EffectiveLiquidityError{Limit: limitBps, Actual: actual, Threshold: protocolMax}
	}
	return nil
}

// exercise accumulates, per token, what closing exps at tick costs the holder
// (in-the-money shorts) and what it pays the holder (in-the-money longs).
func exercise(exps []*collateral.Exposure, tick int32) (cost, credit [2]*uint256.Int, err error) {
	cost = [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	credit = [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	for _, exp := range exps {
		loss, err := exp.LossAt(tick)
		if err != nil {
			return cost, credit, err
		}
		side := cost[exp.Token]
		if exp.Leg.IsLong() {
			side = credit[exp.Token]
		}
		if err := addAmount(side, loss); err != nil {
			return cost, credit, err
		}
	}
	return cost, credit, nil
}

func addAmount(z, x *uint256.Int) error {
	if _, overflow := z.AddOverflow(z, x); overflow {
		return errs.Overflow("exercise amount")
	}
	return nil
}

// pay moves amount of token from one vault account to another. A shortfall in
// token is covered from the payer's other token at sqrtP, rounding against the
// payer. It returns what was paid in each token and the unpaid remainder in
// token units.
func (e *Engine) pay(from, to common.Address, token uint8, amount, sqrtP *uint256.Int) (paid [2]*uint256.Int, unpaid *uint256.Int, err error) {
	paid = [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	unpaid = new(uint256.Int)
	if amount.IsZero() {
		return paid, unpaid, nil
	}

	direct := e.vault.BalanceOf(from, token)
	if amount.Lt(direct) {
		direct.Set(amount)
	}
	if err := e.vault.Transfer(from, to, token, direct); err != nil {
		return paid, unpaid, err
	}
	paid[token] = direct
	rest := new(uint256.Int).Sub(amount, direct)
	if rest.IsZero() {
		return paid, unpaid, nil
	}

	other := 1 - token
	need, err := tickmath.Convert(rest, token, other, sqrtP, true)
	if err != nil {
		return paid, unpaid, err
	}
	have := e.vault.BalanceOf(from, other)
	if !have.Lt(need) {
		if err := e.vault.Transfer(from, to, other, need); err != nil {
			return paid, unpaid, err
		}
		paid[other] = need
		return paid, unpaid, nil
	}
	if err := e.vault.Transfer(from, to, other, have); err != nil {
		return paid, unpaid, err
	}
	paid[other] = have
	covered, err := tickmath.Convert(have, other, token, sqrtP, false)
	if err != nil {
		return paid, unpaid, err
	}
	if covered.Lt(rest) {
		unpaid.Sub(rest, covered)
	}
	return paid, unpaid, nil
}

// payInFull is pay that fails unless the whole amount is covered.
func (e *Engine) payInFull(from, to common.Address, token uint8, amount, sqrtP *uint256.Int, what string) ([2]*uint256.Int, error) {
	paid, unpaid, err := e.pay(from, to, token, amount, sqrtP)
	if err != nil {
		return paid, err
	}
	if !unpaid.IsZero() {
		return paid, fmt.Errorf("%w: %s short by %s of token %d", errs.ErrNotEnoughCollateral, what, unpaid.Dec(), token)
	}
	return paid, nil
}

// collect records amounts received by the passive pool.
func (e *Engine) collect(paid [2]*uint256.Int) error {
	for token := uint8(0); token < 2; token++ {
		if err := e.ledger.Collect(token, paid[token]); err != nil {
			return err
		}
	}
	return nil
}

// settleExercise pays account's exercise costs to the passive pool and the
// passive pool's exercise credits to account. Both sides must be covered.
func (e *Engine) settleExercise(account common.Address, cost, credit [2]*uint256.Int, sqrtP *uint256.Int) error {
	for token := uint8(0); token < 2; token++ {
		paid, err := e.payInFull(account, PassivePoolAddress, token, cost[token], sqrtP, "exercise")
		if err != nil {
			return err
		}
		if err := e.collect(paid); err != nil {
			return err
		}
		if _, err := e.payInFull(PassivePoolAddress, account, token, credit[token], sqrtP, "exercise credit"); err != nil {
			return fmt.Errorf("passive pool: %w", err)
		}
	}
	return nil
}

// chargeCommission charges CommissionBps of every leg's notional.
func (e *Engine) chargeCommission(account common.Address, exps []*collateral.Exposure, sqrtP *uint256.Int) error {
	if e.cfg.CommissionBps == 0 {
		return nil
	}
	var due [2]*uint256.Int
	due[0], due[1] = new(uint256.Int), new(uint256.Int)
	for _, exp := range exps {
		fee, err := tickmath.MulDivRoundingUp(exp.Notional, uint256.NewInt(e.cfg.CommissionBps), uint256.NewInt(collateral.BasisPoints))
		if err != nil {
			return err
		}
		if _, overflow := due[exp.Token].AddOverflow(due[exp.Token], fee); overflow {
			return errs.Overflow("commission")
		}
	}
	for token := uint8(0); token < 2; token++ {
		paid, err := e.payInFull(account, PassivePoolAddress, token, due[token], sqrtP, "commission")
		if err != nil {
			return err
		}
		if err := e.collect(paid); err != nil {
			return err
		}
	}
	return nil
}

// checkBounds enforces tickLower <= tick <= tickUpper when required is set.
func checkBounds(tick, tickLower, tickUpper int32, required bool) error {
	if tickLower > tickUpper {
		return &errs.PriceBoundError{Tick: tick, TickLower: tickLower, TickUpper: tickUpper}
	}
	if required && (tick < tickLower || tick > tickUpper) {
		return &errs.PriceBoundError{Tick: tick, TickLower: tickLower, TickUpper: tickUpper}
	}
	return nil
}
