// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database/memdb"
	"github.com/shopspring/decimal"

	"github.com/parsdao/options/amm"
	"github.com/parsdao/options/config"
	"github.com/parsdao/options/engine"
	"github.com/parsdao/options/markets"
	"github.com/parsdao/options/state"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/vault"
)

// sim is one market's engine over an in-memory database.
type sim struct {
	market markets.Market
	store  *state.Store
	pool   *amm.Pool
	vault  *vault.Store
	eng    *engine.Engine
}

func newSim(m markets.Market, cfg *config.Config) (*sim, error) {
	store, err := state.New(memdb.New())
	if err != nil {
		return nil, err
	}
	pool := amm.NewPool(store, m.Address, m.TickSpacing)
	if err := pool.Initialize(m.InitialTick); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", m.Name, err)
	}
	v := vault.New(store, engine.VaultAddress)
	eng, err := engine.New(store, pool, v, cfg, engine.WithLogger(logger()))
	if err != nil {
		return nil, err
	}
	return &sim{market: m, store: store, pool: pool, vault: v, eng: eng}, nil
}

// amount renders a raw token amount with the given number of decimals.
func amount(x *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(x.ToBig(), -decimals).String()
}

// price renders token1 per token0 at tick.
func price(tick int32) string {
	sqrtP, err := tickmath.SqrtRatioAtTick(tick)
	if err != nil {
		return "n/a"
	}
	s := decimal.NewFromBigInt(sqrtP.ToBig(), 0)
	return s.Mul(s).Div(decimal.NewFromBigInt(tickmath.Q192.ToBig(), 0)).StringFixed(6)
}
