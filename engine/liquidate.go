// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

// LiquidationEvent records one completed liquidation.
type LiquidationEvent struct {
	ID         uuid.UUID
	Height     uint64
	Liquidator common.Address
	Account    common.Address
	Tick       int32
	Positions  []tokenid.ID

	// Available and Required are the account's collapsed token0 valuation
	// before the liquidation.
	Available *uint256.Int
	Required  *uint256.Int

	// Per token amounts
	Bonus        [2]*uint256.Int
	ExerciseCost [2]*uint256.Int
	Socialized   [2]*uint256.Int
}

// Liquidate force-closes every position of an undercollateralized account and
// pays liquidator a bonus. positionList must be the account's current list
// and liquidatorList the liquidator's own, and the liquidator must be
// solvent. The current tick must lie within [tickLower, tickUpper]. The bonus
// never exceeds what the account holds after paying its exercise costs; a
// part it cannot pay in the split tokens is paid by the passive pool.
func (e *Engine) Liquidate(liquidator, account common.Address, tickLower, tickUpper int32, positionList, liquidatorList []tokenid.ID) (*LiquidationEvent, error) {
	var ev *LiquidationEvent
	err := e.atomic("liquidate", func() error {
		var err error
		ev, err = e.liquidate(liquidator, account, tickLower, tickUpper, positionList, liquidatorList)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.history = append(e.history, ev)
	e.mu.Unlock()
	e.metrics.liquidated(ev)
	e.log.Info("account liquidated",
		"id", ev.ID,
		"account", account,
		"liquidator", liquidator,
		"tick", ev.Tick,
		"positions", len(ev.Positions),
		"bonus0", ev.Bonus[0].Dec(),
		"bonus1", ev.Bonus[1].Dec(),
	)
	return ev, nil
}

func (e *Engine) liquidate(liquidator, account common.Address, tickLower, tickUpper int32, positionList, liquidatorList []tokenid.ID) (*LiquidationEvent, error) {
	if liquidator == account {
		return nil, fmt.Errorf("%w: self liquidation", errs.ErrInputListFail)
	}
	if err := e.verifyList(account, positionList); err != nil {
		return nil, err
	}
	if err := e.verifyList(liquidator, liquidatorList); err != nil {
		return nil, fmt.Errorf("liquidator: %w", err)
	}
	tick := e.amm.CurrentTick()
	if err := checkBounds(tick, tickLower, tickUpper, true); err != nil {
		return nil, err
	}
	if err := e.requireSolvent(liquidator, liquidatorList, tick); err != nil {
		return nil, fmt.Errorf("liquidator: %w", err)
	}

	holdings, err := e.holdings(account, positionList)
	if err != nil {
		return nil, err
	}
	v, err := e.calc.Valuate(e.balances(account), holdings, tick)
	if err != nil {
		return nil, err
	}
	solvent, err := v.Solvent()
	if err != nil {
		return nil, err
	}
	if solvent {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotMarginCalled, account.Hex())
	}
	available, required, err := v.Collapse(0)
	if err != nil {
		return nil, err
	}

	// close the account before touching the AMM or the vault
	e.writeList(account, nil)
	for _, h := range holdings {
		e.clearBalance(account, h.ID)
	}

	f := newFlow()
	cost := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	credit := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	for _, h := range holdings {
		exps, err := collateral.Exposures(h.Position, h.Size)
		if err != nil {
			return nil, err
		}
		if err := e.moveLegs(exps, false, 0, f); err != nil {
			return nil, fmt.Errorf("position %s: %w", h.ID.Hex(), err)
		}
		c, cr, err := exercise(exps, tick)
		if err != nil {
			return nil, err
		}
		for t := range cost {
			if err := addAmount(cost[t], c[t]); err != nil {
				return nil, err
			}
			if err := addAmount(credit[t], cr[t]); err != nil {
				return nil, err
			}
		}
	}
	if err := e.applyFlow(f); err != nil {
		return nil, err
	}

	ev := &LiquidationEvent{
		ID:           uuid.New(),
		Height:       e.store.Height(),
		Liquidator:   liquidator,
		Account:      account,
		Tick:         tick,
		Positions:    append([]tokenid.ID(nil), positionList...),
		Available:    available,
		Required:     required,
		Bonus:        [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
		ExerciseCost: [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
		Socialized:   [2]*uint256.Int{new(uint256.Int), new(uint256.Int)},
	}

	sqrtP := v.SqrtPriceX96
	for t := uint8(0); t < 2; t++ {
		if credit[t].Gt(cost[t]) {
			net := new(uint256.Int).Sub(credit[t], cost[t])
			_, unpaid, err := e.pay(PassivePoolAddress, account, t, net, sqrtP)
			if err != nil {
				return nil, err
			}
			if !unpaid.IsZero() {
				e.log.Warn("passive pool short on exercise credit", "account", account, "token", t, "unpaid", unpaid.Dec())
			}
			continue
		}
		net := new(uint256.Int).Sub(cost[t], credit[t])
		paid, unpaid, err := e.pay(account, PassivePoolAddress, t, net, sqrtP)
		if err != nil {
			return nil, err
		}
		if err := e.collect(paid); err != nil {
			return nil, err
		}
		ev.ExerciseCost[t].Sub(net, unpaid)
		if !unpaid.IsZero() {
			e.log.Warn("exercise cost absorbed by passive pool", "account", account, "token", t, "unpaid", unpaid.Dec())
		}
	}

	// size the bonus on what is left after exercise settlement
	remaining := e.balances(account)
	bonus, err := e.remainingBonus(available, required, remaining, sqrtP)
	if err != nil {
		return nil, err
	}
	split0, split1, err := collateral.SplitByValue(bonus, remaining, sqrtP)
	if err != nil {
		return nil, err
	}
	for t, amount := range [2]*uint256.Int{split0, split1} {
		token := uint8(t)
		paid, unpaid, err := e.pay(account, liquidator, token, amount, sqrtP)
		if err != nil {
			return nil, err
		}
		if !unpaid.IsZero() {
			socialized, rest, err := e.pay(PassivePoolAddress, liquidator, token, unpaid, sqrtP)
			if err != nil {
				return nil, err
			}
			for i := range paid {
				paid[i].Add(paid[i], socialized[i])
				ev.Socialized[i].Add(ev.Socialized[i], socialized[i])
			}
			if !rest.IsZero() {
				e.log.Warn("bonus partly unpaid", "account", account, "token", token, "unpaid", rest.Dec())
			}
		}
		for i := range paid {
			ev.Bonus[i].Add(ev.Bonus[i], paid[i])
		}
	}
	return ev, nil
}

// remainingBonus asks the bonus policy for the bonus on the account's
// remaining balances. The shortfall is the one measured before the close;
// the bonus is capped at the remaining collateral value in token0.
func (e *Engine) remainingBonus(available, required *uint256.Int, remaining [2]*uint256.Int, sqrtP *uint256.Int) (*uint256.Int, error) {
	left, err := tickmath.Convert1To0(remaining[1], sqrtP, false)
	if err != nil {
		return nil, err
	}
	if _, overflow := left.AddOverflow(left, remaining[0]); overflow {
		return nil, errs.Overflow("remaining collateral")
	}
	shortfall := new(uint256.Int)
	if available.Lt(required) {
		shortfall.Sub(required, available)
	}
	owed := new(uint256.Int)
	if _, overflow := owed.AddOverflow(left, shortfall); overflow {
		return nil, errs.Overflow("bonus requirement")
	}
	bonus, err := e.bonus.Bonus(left, owed)
	if err != nil {
		return nil, err
	}
	if left.Lt(bonus) {
		bonus = left
	}
	return bonus, nil
}
