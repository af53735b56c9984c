// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"

	"github.com/parsdao/options/engine"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

var (
	writer = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	keeper = common.HexToAddress("0x00000000000000000000000000000000000cafe0")
)

type scenarioFlags struct {
	market    string
	size      uint64
	strike    int32
	width     uint16
	call      bool
	deposit   uint64
	passive   uint64
	moveTicks int32
	decimals  int32
}

var scenario scenarioFlags

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Sell one option, move the price and liquidate if margin called",
	Long: `Deposits passive liquidity and the writer's collateral, sells a single-leg
option, moves the pool price by --move ticks and liquidates the writer when the
account falls below its collateral requirement.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		m := reg.Markets()[0]
		if scenario.market != "" {
			var ok bool
			if m, ok = reg.ByName(scenario.market); !ok {
				return fmt.Errorf("unknown market %q", scenario.market)
			}
		}
		s, err := newSim(m, cfg)
		if err != nil {
			return err
		}
		return s.run(cmd.OutOrStdout(), scenario)
	},
}

func init() {
	f := scenarioCmd.Flags()
	f.StringVar(&scenario.market, "market", "", "market name (default: first configured)")
	f.Uint64Var(&scenario.size, "size", 3_396_144_616, "contracts to sell")
	f.Int32Var(&scenario.strike, "strike", 0, "strike tick")
	f.Uint16Var(&scenario.width, "width", 2, "width in tick spacings")
	f.BoolVar(&scenario.call, "call", false, "sell a call instead of a put")
	f.Uint64Var(&scenario.deposit, "deposit", 700_000_000, "writer collateral in the option's token")
	f.Uint64Var(&scenario.passive, "passive", 100_000_000_000, "passive liquidity per token")
	f.Int32Var(&scenario.moveTicks, "move", -300, "price move in ticks")
	f.Int32Var(&scenario.decimals, "decimals", 6, "token decimals for display")
	rootCmd.AddCommand(scenarioCmd)
}

func (s *sim) run(out io.Writer, p scenarioFlags) error {
	tokenType := tokenid.Put
	if p.call {
		tokenType = tokenid.Call
	}
	id, err := tokenid.Encode(tokenid.Position{
		Pool: s.market.Ref(),
		Legs: []tokenid.Leg{{Ratio: 1, TokenType: tokenType, Strike: p.strike, Width: p.width}},
	})
	if err != nil {
		return err
	}
	token := tokenType.Token()

	for t := uint8(0); t < 2; t++ {
		if err := s.eng.Deposit(engine.PassivePoolAddress, t, uint256.NewInt(p.passive)); err != nil {
			return err
		}
	}
	if err := s.eng.Deposit(writer, token, uint256.NewInt(p.deposit)); err != nil {
		return err
	}
	list := []tokenid.ID{id}
	if err := s.eng.Mint(writer, list, uint256.NewInt(p.size), 0, tickmath.MinTick, tickmath.MaxTick-1); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	fmt.Fprintf(out, "market %s  ref %s\n", s.market.Name, s.market.Ref())
	fmt.Fprintf(out, "sold    %s  size %d\n", id.Hex(), p.size)
	if err := s.report(out, list, p.decimals); err != nil {
		return err
	}

	tick := s.pool.CurrentTick() + p.moveTicks
	if err := s.pool.Swap(tick); err != nil {
		return err
	}
	fmt.Fprintf(out, "swap    tick %d\n", tick)
	if err := s.report(out, list, p.decimals); err != nil {
		return err
	}

	liquidatable, err := s.eng.IsLiquidatable(writer, list)
	if err != nil {
		return err
	}
	if !liquidatable {
		fmt.Fprintln(out, "writer is solvent")
		return nil
	}
	ev, err := s.eng.Liquidate(keeper, writer, tick, tick, list, nil)
	if err != nil {
		return fmt.Errorf("liquidate: %w", err)
	}
	fmt.Fprintf(out, "liquidated %s at height %d\n", ev.ID, ev.Height)
	for t := 0; t < 2; t++ {
		fmt.Fprintf(out, "  token%d  bonus %s  exercise %s  socialized %s\n", t,
			amount(ev.Bonus[t], p.decimals), amount(ev.ExerciseCost[t], p.decimals), amount(ev.Socialized[t], p.decimals))
	}
	return nil
}

func (s *sim) report(out io.Writer, list []tokenid.ID, decimals int32) error {
	v, err := s.eng.Valuation(writer, list)
	if err != nil {
		return err
	}
	available, required, err := v.Collapse(0)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tick %d  price %s  available %s  required %s (token0)\n",
		v.Tick, price(v.Tick), amount(available, decimals), amount(required, decimals))
	return nil
}
