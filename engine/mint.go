// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

// Mint opens size contracts of the last id in positionList for account.
// positionList without its last entry must be the account's current list.
// limitBps caps the effective liquidity of long legs (0 means the protocol
// maximum). When any leg is in the money the current tick must lie within
// [tickLower, tickUpper].
func (e *Engine) Mint(account common.Address, positionList []tokenid.ID, size *uint256.Int, limitBps uint64, tickLower, tickUpper int32) error {
	return e.atomic("mint", func() error {
		if size == nil || size.IsZero() {
			return errs.ErrOptionsBalanceZero
		}
		if size.BitLen() > 128 {
			return errs.Overflow("position size exceeds uint128")
		}
		n := len(positionList)
		if n == 0 {
			return fmt.Errorf("%w: empty list", errs.ErrInputListFail)
		}
		if n > e.cfg.MaxPositions {
			return fmt.Errorf("%w: %d > %d", errs.ErrTooManyPositions, n, e.cfg.MaxPositions)
		}
		id := positionList[n-1]
		pos, err := e.cache.Decode(id)
		if err != nil {
			return err
		}
		if err := pos.Validate(e.Ref()); err != nil {
			return err
		}
		if err := e.verifyList(account, positionList[:n-1]); err != nil {
			return err
		}
		if e.balanceOf(account, id).Held() {
			return fmt.Errorf("%w: %s", errs.ErrPositionAlreadyMinted, id.Hex())
		}
		if tokenid.HasDuplicates(positionList) {
			return fmt.Errorf("%w: duplicate ids", errs.ErrInputListFail)
		}

		tick := e.amm.CurrentTick()
		itm, err := collateral.InTheMoney(pos, tick)
		if err != nil {
			return err
		}
		if err := checkBounds(tick, tickLower, tickUpper, itm); err != nil {
			return err
		}

		exps, err := collateral.Exposures(pos, size)
		if err != nil {
			return err
		}
		f := newFlow()
		if err := e.moveLegs(exps, true, limitBps, f); err != nil {
			return err
		}
		if err := e.applyFlow(f); err != nil {
			return err
		}
		sqrtP, err := tickmath.SqrtRatioAtTick(tick)
		if err != nil {
			return err
		}
		if err := e.chargeCommission(account, exps, sqrtP); err != nil {
			return err
		}

		bal := Balance{Size: size, Utilization: [2]uint64{e.ledger.Utilization(0), e.ledger.Utilization(1)}}
		if err := e.setBalance(account, id, bal); err != nil {
			return err
		}
		e.writeList(account, positionList)

		if err := e.requireSolvent(account, positionList, tick); err != nil {
			return err
		}
		e.log.Info("position minted",
			"account", account,
			"id", id.Hex(),
			"size", size.Dec(),
			"tick", tick,
		)
		return nil
	})
}

// Burn closes account's whole holding of id. remainingList must be the
// account's current list with id removed, order kept. Burning a position that
// is in the money requires the current tick within [tickLower, tickUpper]
// and settles its exercise against the passive pool.
func (e *Engine) Burn(account common.Address, id tokenid.ID, remainingList []tokenid.ID, tickLower, tickUpper int32) error {
	return e.atomic("burn", func() error {
		bal := e.balanceOf(account, id)
		if !bal.Held() {
			return fmt.Errorf("%w: %s not held", errs.ErrInputListFail, id.Hex())
		}
		stored := e.storedList(account)
		i := tokenid.IndexOf(stored, id)
		if i < 0 || !tokenid.Equal(tokenid.Without(stored, i), remainingList) {
			return fmt.Errorf("%w: remaining list does not match", errs.ErrInputListFail)
		}
		pos, err := e.cache.Decode(id)
		if err != nil {
			return err
		}

		tick := e.amm.CurrentTick()
		itm, err := collateral.InTheMoney(pos, tick)
		if err != nil {
			return err
		}
		if err := checkBounds(tick, tickLower, tickUpper, itm); err != nil {
			return err
		}

		e.clearBalance(account, id)
		e.writeList(account, remainingList)

		exps, err := collateral.Exposures(pos, bal.Size)
		if err != nil {
			return err
		}
		f := newFlow()
		if err := e.moveLegs(exps, false, 0, f); err != nil {
			return err
		}
		if err := e.applyFlow(f); err != nil {
			return err
		}
		if itm {
			cost, credit, err := exercise(exps, tick)
			if err != nil {
				return err
			}
			sqrtP, err := tickmath.SqrtRatioAtTick(tick)
			if err != nil {
				return err
			}
			if err := e.settleExercise(account, cost, credit, sqrtP); err != nil {
				return err
			}
		}

		if err := e.requireSolvent(account, remainingList, tick); err != nil {
			return err
		}
		e.log.Info("position burned",
			"account", account,
			"id", id.Hex(),
			"size", bal.Size.Dec(),
			"tick", tick,
			"itm", itm,
		)
		return nil
	})
}
