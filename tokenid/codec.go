// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tokenid

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/parsdao/options/errs"
)

// Slot field offsets
const (
	offAsset       = 0
	offRatio       = 1
	offIsLong      = 8
	offTokenType   = 9
	offRiskPartner = 10
	offStrike      = 12
	offWidth       = 36
)

// Encode packs p into an ID. Encoding is a bijection on valid positions.
func Encode(p Position) (ID, error) {
	if err := p.validateLegs(); err != nil {
		return ID{}, err
	}

	var id ID
	id.v.SetUint64(uint64(p.Pool))
	for i, leg := range p.Legs {
		slot := packLeg(leg)
		word := new(uint256.Int).SetUint64(slot)
		word.Lsh(word, uint(poolRefBits+legBits*i))
		id.v.Or(&id.v, word)
	}
	return id, nil
}

// MustEncode is Encode for positions built in code.
func MustEncode(p Position) ID {
	id, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode unpacks id and checks its structure. Pool binding is checked by
// Position.Validate.
func Decode(id ID) (Position, error) {
	n := id.LegCount()
	if n == 0 {
		return Position{}, fmt.Errorf("%w: no legs", errs.ErrInvalidLegParameter)
	}
	for i := n; i < MaxLegs; i++ {
		if id.slot(i) != 0 {
			return Position{}, fmt.Errorf("%w: leg slot %d set after empty slot", errs.ErrInvalidLegParameter, i)
		}
	}

	p := Position{Pool: id.PoolRef(), Legs: make([]Leg, n)}
	for i := range p.Legs {
		p.Legs[i] = unpackLeg(id.slot(i))
	}
	if err := p.validateLegs(); err != nil {
		return Position{}, err
	}
	return p, nil
}

func packLeg(l Leg) uint64 {
	strike := uint64(uint32(l.Strike)) & (1<<strikeBits - 1)
	return uint64(l.Asset)<<offAsset |
		uint64(l.Ratio)<<offRatio |
		uint64(l.Direction)<<offIsLong |
		uint64(l.TokenType)<<offTokenType |
		uint64(l.RiskPartner)<<offRiskPartner |
		strike<<offStrike |
		uint64(l.Width)<<offWidth
}

func unpackLeg(slot uint64) Leg {
	strike := int32(slot>>offStrike) & (1<<strikeBits - 1)
	if strike&(1<<(strikeBits-1)) != 0 {
		strike -= 1 << strikeBits
	}
	return Leg{
		Asset:       uint8(slot>>offAsset) & 1,
		Ratio:       uint8(slot>>offRatio) & MaxRatio,
		Direction:   Direction(slot>>offIsLong) & 1,
		TokenType:   TokenType(slot>>offTokenType) & 1,
		RiskPartner: uint8(slot>>offRiskPartner) & (1<<riskPartnerBits - 1),
		Strike:      strike,
		Width:       uint16(slot>>offWidth) & MaxWidth,
	}
}

// validateLegs checks field widths and risk partner pairing. It does not
// need a pool.
func (p Position) validateLegs() error {
	n := len(p.Legs)
	if n == 0 || n > MaxLegs {
		return fmt.Errorf("%w: %d legs", errs.ErrInvalidLegParameter, n)
	}
	if p.Pool.TickSpacing() <= 0 {
		return fmt.Errorf("%w: zero tick spacing in pool reference", errs.ErrInvalidLegParameter)
	}

	for i, leg := range p.Legs {
		switch {
		case leg.Ratio == 0 || leg.Ratio > MaxRatio:
			return fmt.Errorf("%w: leg %d ratio %d", errs.ErrInvalidLegParameter, i, leg.Ratio)
		case leg.Width == 0 || leg.Width > MaxWidth:
			return fmt.Errorf("%w: leg %d width %d", errs.ErrInvalidLegParameter, i, leg.Width)
		case leg.Asset > 1:
			return fmt.Errorf("%w: leg %d asset %d", errs.ErrInvalidLegParameter, i, leg.Asset)
		case leg.TokenType > Put:
			return fmt.Errorf("%w: leg %d token type %d", errs.ErrInvalidLegParameter, i, leg.TokenType)
		case leg.Direction > Long:
			return fmt.Errorf("%w: leg %d direction %d", errs.ErrInvalidLegParameter, i, leg.Direction)
		case int(leg.RiskPartner) >= n:
			return fmt.Errorf("%w: leg %d risk partner %d out of range", errs.ErrInvalidLegParameter, i, leg.RiskPartner)
		case leg.Strike < MinStrike || leg.Strike > MaxStrike:
			return fmt.Errorf("%w: leg %d strike %d", errs.ErrInvalidLegParameter, i, leg.Strike)
		}
	}

	for i, leg := range p.Legs {
		j, ok := p.Partner(i)
		if !ok {
			continue
		}
		partner := p.Legs[j]
		if int(partner.RiskPartner) != i {
			return fmt.Errorf("%w: leg %d partners %d but %d partners %d",
				errs.ErrInvalidLegParameter, i, j, j, partner.RiskPartner)
		}
		if partner.Asset != leg.Asset || partner.Ratio != leg.Ratio {
			return fmt.Errorf("%w: partners %d and %d differ in asset or ratio", errs.ErrInvalidLegParameter, i, j)
		}
		spread := partner.TokenType == leg.TokenType && partner.Direction != leg.Direction
		strangle := partner.TokenType != leg.TokenType && partner.Direction == leg.Direction
		if !spread && !strangle {
			return fmt.Errorf("%w: partners %d and %d are neither a spread nor a strangle",
				errs.ErrInvalidLegParameter, i, j)
		}
	}
	return nil
}

// CheckRoll returns nil when next differs from prev only in leg strikes
// and/or widths.
func CheckRoll(prev, next Position) error {
	if prev.Pool != next.Pool {
		return fmt.Errorf("%w: pool changed", errs.ErrNotATokenRoll)
	}
	if len(prev.Legs) != len(next.Legs) {
		return fmt.Errorf("%w: leg count %d -> %d", errs.ErrNotATokenRoll, len(prev.Legs), len(next.Legs))
	}
	changed := false
	for i := range prev.Legs {
		a, b := prev.Legs[i], next.Legs[i]
		if a.Asset != b.Asset || a.Ratio != b.Ratio || a.TokenType != b.TokenType ||
			a.Direction != b.Direction || a.RiskPartner != b.RiskPartner {
			return fmt.Errorf("%w: leg %d structure changed", errs.ErrNotATokenRoll, i)
		}
		if a.Strike != b.Strike || a.Width != b.Width {
			changed = true
		}
	}
	if !changed {
		return fmt.Errorf("%w: no strike or width change", errs.ErrNotATokenRoll)
	}
	return nil
}
