// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the policy parameters of the options core and loads
// them from a file and OPTIONS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/spf13/viper"

	"github.com/parsdao/options/collateral"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// OPTIONS_COMMISSIONBPS or OPTIONS_COLLATERAL_SELLCOLLATERALBPS.
const EnvPrefix = "OPTIONS"

var ErrInvalidConfig = errors.New("invalid config")

// Config is the full policy configuration.
type Config struct {
	// Collateral requirement curve
	Collateral collateral.Params `json:"collateral" mapstructure:"collateral"`

	// CommissionBps is charged on the notional of every minted leg.
	CommissionBps uint64 `json:"commissionBps" mapstructure:"commissionBps"`

	// MaxBonusBps caps the liquidation bonus as a share of the account's
	// collateral.
	MaxBonusBps uint64 `json:"maxBonusBps" mapstructure:"maxBonusBps"`

	// MaxEffectiveLiquidityBps caps removed / (net + removed) in a chunk.
	MaxEffectiveLiquidityBps uint64 `json:"maxEffectiveLiquidityBps" mapstructure:"maxEffectiveLiquidityBps"`

	// MaxPositions bounds the length of an account's position list.
	MaxPositions int `json:"maxPositions" mapstructure:"maxPositions"`

	// DecodeCacheSize is the number of decoded position ids kept in memory.
	DecodeCacheSize int `json:"decodeCacheSize" mapstructure:"decodeCacheSize"`

	// Markets to open at startup
	Markets []Market `json:"markets" mapstructure:"markets"`
}

// Market describes one AMM pool.
type Market struct {
	Name        string `json:"name" mapstructure:"name"`
	Address     string `json:"address" mapstructure:"address"`
	TickSpacing uint16 `json:"tickSpacing" mapstructure:"tickSpacing"`
	InitialTick int32  `json:"initialTick" mapstructure:"initialTick"`
}

// Default returns placeholder policy values.
func Default() *Config {
	return &Config{
		Collateral:               collateral.DefaultParams(),
		CommissionBps:            10,
		MaxBonusBps:              1_000,
		MaxEffectiveLiquidityBps: 9_000,
		MaxPositions:             32,
		DecodeCacheSize:          1_024,
	}
}

// Verify checks every parameter.
func (c *Config) Verify() error {
	if err := c.Collateral.Verify(); err != nil {
		return err
	}
	switch {
	case c.CommissionBps > collateral.BasisPoints:
		return fmt.Errorf("%w: commissionBps %d", ErrInvalidConfig, c.CommissionBps)
	case c.MaxBonusBps > collateral.BasisPoints:
		return fmt.Errorf("%w: maxBonusBps %d", ErrInvalidConfig, c.MaxBonusBps)
	case c.MaxEffectiveLiquidityBps == 0 || c.MaxEffectiveLiquidityBps > collateral.BasisPoints:
		return fmt.Errorf("%w: maxEffectiveLiquidityBps %d", ErrInvalidConfig, c.MaxEffectiveLiquidityBps)
	case c.MaxPositions <= 0:
		return fmt.Errorf("%w: maxPositions %d", ErrInvalidConfig, c.MaxPositions)
	}
	for i, m := range c.Markets {
		if !common.IsHexAddress(m.Address) {
			return fmt.Errorf("%w: market %d address %q", ErrInvalidConfig, i, m.Address)
		}
		if m.TickSpacing == 0 {
			return fmt.Errorf("%w: market %d zero tick spacing", ErrInvalidConfig, i)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("collateral.sellCollateralBps", d.Collateral.SellCollateralBps)
	v.SetDefault("collateral.buyCollateralBps", d.Collateral.BuyCollateralBps)
	v.SetDefault("collateral.targetUtilizationBps", d.Collateral.TargetUtilizationBps)
	v.SetDefault("collateral.saturatedUtilizationBps", d.Collateral.SaturatedUtilizationBps)
	v.SetDefault("commissionBps", d.CommissionBps)
	v.SetDefault("maxBonusBps", d.MaxBonusBps)
	v.SetDefault("maxEffectiveLiquidityBps", d.MaxEffectiveLiquidityBps)
	v.SetDefault("maxPositions", d.MaxPositions)
	v.SetDefault("decodeCacheSize", d.DecodeCacheSize)
}

// Load builds a Config from defaults, the file at path (TOML, JSON or YAML by
// extension; skipped when path is empty) and OPTIONS_ environment variables,
// in increasing priority.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
