// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package collateral

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/parsdao/options/tickmath"
)

// BasisPoints is the ratio denominator.
const BasisPoints = 10_000

var ErrInvalidParams = errors.New("invalid collateral parameters")

// Params are the collateral policy parameters, all in basis points.
type Params struct {
	// SellCollateralBps is the base requirement of a short leg below the
	// target utilization.
	SellCollateralBps uint64 `json:"sellCollateralBps" mapstructure:"sellCollateralBps"`

	// BuyCollateralBps is the requirement of a long leg at zero utilization.
	BuyCollateralBps uint64 `json:"buyCollateralBps" mapstructure:"buyCollateralBps"`

	// TargetUtilizationBps is where the sell ratio starts to rise.
	TargetUtilizationBps uint64 `json:"targetUtilizationBps" mapstructure:"targetUtilizationBps"`

	// SaturatedUtilizationBps is where the sell ratio reaches 100%.
	SaturatedUtilizationBps uint64 `json:"saturatedUtilizationBps" mapstructure:"saturatedUtilizationBps"`
}

// DefaultParams returns placeholder policy values.
func DefaultParams() Params {
	return Params{
		SellCollateralBps:       2_000,
		BuyCollateralBps:        1_000,
		TargetUtilizationBps:    5_000,
		SaturatedUtilizationBps: 9_000,
	}
}

// Verify checks parameter ranges.
func (p Params) Verify() error {
	switch {
	case p.SellCollateralBps == 0 || p.SellCollateralBps > BasisPoints:
		return fmt.Errorf("%w: sellCollateralBps %d", ErrInvalidParams, p.SellCollateralBps)
	case p.BuyCollateralBps > BasisPoints:
		return fmt.Errorf("%w: buyCollateralBps %d", ErrInvalidParams, p.BuyCollateralBps)
	case p.TargetUtilizationBps >= p.SaturatedUtilizationBps:
		return fmt.Errorf("%w: target utilization %d must be below saturated %d",
			ErrInvalidParams, p.TargetUtilizationBps, p.SaturatedUtilizationBps)
	case p.SaturatedUtilizationBps > BasisPoints:
		return fmt.Errorf("%w: saturatedUtilizationBps %d", ErrInvalidParams, p.SaturatedUtilizationBps)
	}
	return nil
}

// SellRatio is flat at SellCollateralBps up to the target utilization, then
// rises linearly to 100% at saturation.
func (p Params) SellRatio(utilBps uint64) uint64 {
	switch {
	case utilBps <= p.TargetUtilizationBps:
		return p.SellCollateralBps
	case utilBps >= p.SaturatedUtilizationBps:
		return BasisPoints
	}
	span := p.SaturatedUtilizationBps - p.TargetUtilizationBps
	rise := (BasisPoints - p.SellCollateralBps) * (utilBps - p.TargetUtilizationBps) / span
	return p.SellCollateralBps + rise
}

// BuyRatio starts at BuyCollateralBps and halves linearly up to saturation.
func (p Params) BuyRatio(utilBps uint64) uint64 {
	if p.SaturatedUtilizationBps == 0 {
		return p.BuyCollateralBps
	}
	if utilBps > p.SaturatedUtilizationBps {
		utilBps = p.SaturatedUtilizationBps
	}
	return p.BuyCollateralBps - p.BuyCollateralBps/2*utilBps/p.SaturatedUtilizationBps
}

// mulBpsUp returns ceil(amount * bps / 10000).
func mulBpsUp(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return tickmath.MulDivRoundingUp(amount, uint256.NewInt(bps), uint256.NewInt(BasisPoints))
}
