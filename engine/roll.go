// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"fmt"

	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/collateral"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

// Roll replaces account's holding of oldID with newID at the same size.
// newID may differ from oldID only in leg strikes and widths. When oldID is
// in the money fullList must be the account's current list and the account
// must stay solvent; otherwise fullList may be nil. A non-nil fullList is
// always checked against the stored list. When either position is
// in the money the current tick must lie within [tickLower, tickUpper].
func (e *Engine) Roll(account common.Address, oldID, newID tokenid.ID, fullList []tokenid.ID, tickLower, tickUpper int32) error {
	return e.atomic("roll", func() error {
		prev, err := e.cache.Decode(oldID)
		if err != nil {
			return err
		}
		next, err := e.cache.Decode(newID)
		if err != nil {
			return err
		}
		if err := tokenid.CheckRoll(prev, next); err != nil {
			return err
		}
		if err := next.Validate(e.Ref()); err != nil {
			return err
		}

		bal := e.balanceOf(account, oldID)
		if !bal.Held() {
			return fmt.Errorf("%w: %s not held", errs.ErrInputListFail, oldID.Hex())
		}
		if e.balanceOf(account, newID).Held() {
			return fmt.Errorf("%w: %s", errs.ErrPositionAlreadyMinted, newID.Hex())
		}

		tick := e.amm.CurrentTick()
		oldITM, err := collateral.InTheMoney(prev, tick)
		if err != nil {
			return err
		}
		newITM, err := collateral.InTheMoney(next, tick)
		if err != nil {
			return err
		}
		if oldITM && fullList == nil {
			return fmt.Errorf("%w: %s needs the full position list", errs.ErrOptionsNotOTM, oldID.Hex())
		}
		if fullList != nil {
			if err := e.verifyList(account, fullList); err != nil {
				return err
			}
		}
		if err := checkBounds(tick, tickLower, tickUpper, oldITM || newITM); err != nil {
			return err
		}

		list := e.storedList(account)
		i := tokenid.IndexOf(list, oldID)
		if i < 0 {
			return fmt.Errorf("%w: %s missing from list", errs.ErrInputListFail, oldID.Hex())
		}
		list[i] = newID

		oldExps, err := collateral.Exposures(prev, bal.Size)
		if err != nil {
			return err
		}
		newExps, err := collateral.Exposures(next, bal.Size)
		if err != nil {
			return err
		}
		f := newFlow()
		if err := e.moveLegs(oldExps, false, 0, f); err != nil {
			return err
		}
		if err := e.moveLegs(newExps, true, 0, f); err != nil {
			return err
		}
		if err := e.applyFlow(f); err != nil {
			return err
		}

		sqrtP, err := tickmath.SqrtRatioAtTick(tick)
		if err != nil {
			return err
		}
		if oldITM {
			cost, credit, err := exercise(oldExps, tick)
			if err != nil {
				return err
			}
			if err := e.settleExercise(account, cost, credit, sqrtP); err != nil {
				return err
			}
		}
		if err := e.chargeCommission(account, newExps, sqrtP); err != nil {
			return err
		}

		e.clearBalance(account, oldID)
		rolled := Balance{Size: bal.Size, Utilization: [2]uint64{e.ledger.Utilization(0), e.ledger.Utilization(1)}}
		if err := e.setBalance(account, newID, rolled); err != nil {
			return err
		}
		e.writeList(account, list)

		if oldITM {
			if err := e.requireSolvent(account, list, tick); err != nil {
				return err
			}
		}
		e.log.Info("position rolled",
			"account", account,
			"from", oldID.Hex(),
			"to", newID.Hex(),
			"size", bal.Size.Dec(),
			"itm", oldITM,
		)
		return nil
	})
}
