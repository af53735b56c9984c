// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package collateral values option portfolios: per-leg requirements at a
// reference tick, risk-partner netting, and cross-collateral collapse into a
// single token unit.
package collateral

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

// Holding is one stored position with its size and the pool utilizations
// frozen when it was minted.
type Holding struct {
	ID          tokenid.ID
	Position    tokenid.Position
	Size        *uint256.Int
	Utilization [2]uint64
}

// Calculator computes collateral requirements. It holds no state besides its
// parameters and is safe for concurrent use.
type Calculator struct {
	params Params
}

// NewCalculator creates a calculator after verifying p.
func NewCalculator(p Params) (*Calculator, error) {
	if err := p.Verify(); err != nil {
		return nil, err
	}
	return &Calculator{params: p}, nil
}

// Params returns the calculator's parameters.
func (c *Calculator) Params() Params { return c.params }

// =========================================================================
// Requirements
// =========================================================================

// Requirement returns the collateral h needs at tick, per token.
func (c *Calculator) Requirement(h Holding, tick int32) ([2]*uint256.Int, error) {
	req := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	exps, err := Exposures(h.Position, h.Size)
	if err != nil {
		return req, err
	}

	var done [tokenid.MaxLegs]bool
	for i := range exps {
		if done[i] {
			continue
		}
		done[i] = true
		j, partnered := h.Position.Partner(i)
		if !partnered {
			if err := c.addLeg(&req, exps[i], h.Utilization, tick, false); err != nil {
				return req, err
			}
			continue
		}
		done[j] = true
		a, b := exps[i], exps[j]

		switch {
		case a.Leg.TokenType == b.Leg.TokenType && a.Leg.Direction != b.Leg.Direction:
			short, long := a, b
			if a.Leg.IsLong() {
				short, long = b, a
			}
			r, err := c.spread(short, long, h.Utilization, tick)
			if err != nil {
				return req, err
			}
			if err := addTo(req[short.Token], r); err != nil {
				return req, err
			}
		case !a.Leg.IsLong() && !b.Leg.IsLong():
			// short strangle: only one side can be exercised at a time
			if err := c.addLeg(&req, a, h.Utilization, tick, true); err != nil {
				return req, err
			}
			if err := c.addLeg(&req, b, h.Utilization, tick, true); err != nil {
				return req, err
			}
		default:
			if err := c.addLeg(&req, a, h.Utilization, tick, false); err != nil {
				return req, err
			}
			if err := c.addLeg(&req, b, h.Utilization, tick, false); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// Requirements sums Requirement over holdings.
func (c *Calculator) Requirements(holdings []Holding, tick int32) ([2]*uint256.Int, error) {
	total := [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
	for _, h := range holdings {
		req, err := c.Requirement(h, tick)
		if err != nil {
			return total, fmt.Errorf("position %s: %w", h.ID.Hex(), err)
		}
		for t := range total {
			if err := addTo(total[t], req[t]); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (c *Calculator) addLeg(req *[2]*uint256.Int, e *Exposure, util [2]uint64, tick int32, halve bool) error {
	r, err := c.legRequirement(e, util, tick, halve)
	if err != nil {
		return err
	}
	return addTo(req[e.Token], r)
}

// legRequirement is notional * sellRatio + loss for a short leg and
// notional * buyRatio for a long leg.
func (c *Calculator) legRequirement(e *Exposure, util [2]uint64, tick int32, halve bool) (*uint256.Int, error) {
	u := util[e.Token]
	if e.Leg.IsLong() {
		return mulBpsUp(e.Notional, c.params.BuyRatio(u))
	}
	base, err := mulBpsUp(e.Notional, c.params.SellRatio(u))
	if err != nil {
		return nil, err
	}
	if halve {
		odd := base.Uint64() & 1
		base.Rsh(base, 1)
		base.AddUint64(base, odd)
	}
	loss, err := e.LossAt(tick)
	if err != nil {
		return nil, err
	}
	return base, addTo(base, loss)
}

// spread returns min(short requirement, worst net loss) plus the long
// leg's own requirement. The long leg's loss is a credit only here.
func (c *Calculator) spread(short, long *Exposure, util [2]uint64, tick int32) (*uint256.Int, error) {
	shortReq, err := c.legRequirement(short, util, tick, false)
	if err != nil {
		return nil, err
	}
	worst, err := WorstNetLoss(short, long, tick)
	if err != nil {
		return nil, err
	}
	longReq, err := c.legRequirement(long, util, tick, false)
	if err != nil {
		return nil, err
	}
	r := shortReq
	if worst.Lt(r) {
		r = worst
	}
	return r, addTo(r, longReq)
}

// WorstNetLoss returns the largest short loss net of the long credit over
// the ticks where the difference can peak: tick, both chunks' bounds and the
// price extremes.
func WorstNetLoss(short, long *Exposure, tick int32) (*uint256.Int, error) {
	candidates := []int32{
		tick,
		short.Chunk.Lower, short.Chunk.Upper,
		long.Chunk.Lower, long.Chunk.Upper,
		tickmath.MinTick, tickmath.MaxTick,
	}
	worst := new(uint256.Int)
	for _, at := range candidates {
		ls, err := short.LossAt(at)
		if err != nil {
			return nil, err
		}
		ll, err := long.LossAt(at)
		if err != nil {
			return nil, err
		}
		if ls.Gt(ll) && ls.Sub(ls, ll).Gt(worst) {
			worst = ls
		}
	}
	return worst, nil
}

func addTo(z, x *uint256.Int) error {
	if _, overflow := z.AddOverflow(z, x); overflow {
		return errs.Overflow("collateral requirement")
	}
	return nil
}

// =========================================================================
// Valuation
// =========================================================================

// Valuation is an account's balances and requirements at one tick.
type Valuation struct {
	Tick         int32
	SqrtPriceX96 *uint256.Int
	Balances     [2]*uint256.Int
	Required     [2]*uint256.Int
}

// Valuate computes the requirements of holdings at tick against balances.
func (c *Calculator) Valuate(balances [2]*uint256.Int, holdings []Holding, tick int32) (*Valuation, error) {
	sqrtP, err := tickmath.SqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	req, err := c.Requirements(holdings, tick)
	if err != nil {
		return nil, err
	}
	return &Valuation{
		Tick:         tick,
		SqrtPriceX96: sqrtP,
		Balances:     [2]*uint256.Int{new(uint256.Int).Set(balances[0]), new(uint256.Int).Set(balances[1])},
		Required:     req,
	}, nil
}

// Collapse expresses the valuation in token units. The other token's
// balance converts rounding down and its requirement rounding up.
func (v *Valuation) Collapse(token uint8) (available, required *uint256.Int, err error) {
	if token > 1 {
		return nil, nil, fmt.Errorf("%w: token %d", errs.ErrInvalidLegParameter, token)
	}
	other := 1 - token

	bal, err := tickmath.Convert(v.Balances[other], other, token, v.SqrtPriceX96, false)
	if err != nil {
		return nil, nil, err
	}
	req, err := tickmath.Convert(v.Required[other], other, token, v.SqrtPriceX96, true)
	if err != nil {
		return nil, nil, err
	}
	if err := addTo(bal, v.Balances[token]); err != nil {
		return nil, nil, err
	}
	if err := addTo(req, v.Required[token]); err != nil {
		return nil, nil, err
	}
	return bal, req, nil
}

// Solvent reports whether available >= required in both token units.
func (v *Valuation) Solvent() (bool, error) {
	for token := uint8(0); token < 2; token++ {
		available, required, err := v.Collapse(token)
		if err != nil {
			return false, err
		}
		if available.Lt(required) {
			return false, nil
		}
	}
	return true, nil
}

// CheckSolvent returns a *errs.CollateralError when v is not solvent.
func (v *Valuation) CheckSolvent() error {
	for token := uint8(0); token < 2; token++ {
		available, required, err := v.Collapse(token)
		if err != nil {
			return err
		}
		if available.Lt(required) {
			return &errs.CollateralError{Token: token, Available: available, Required: required}
		}
	}
	return nil
}
