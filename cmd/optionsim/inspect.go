// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parsdao/options/tokenid"
)

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List configured markets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		for _, m := range reg.Markets() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s  spacing %-4d ref %s  tick %d\n",
				m.Name, m.Address.Hex(), m.TickSpacing, m.Ref(), m.InitialTick)
		}
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <id>",
	Short: "Decode a position id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := tokenid.FromHex(args[0])
		if err != nil {
			return err
		}
		pos, err := tokenid.Decode(id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		if m, err := reg.ByRef(pos.Pool); err == nil {
			fmt.Fprintf(out, "market %s (%s)\n", m.Name, m.Address.Hex())
		} else {
			fmt.Fprintf(out, "pool %s (%v)\n", pos.Pool, err)
		}

		chunks, err := pos.Chunks()
		if err != nil {
			return err
		}
		for i, leg := range pos.Legs {
			partner := "-"
			if j, ok := pos.Partner(i); ok {
				partner = fmt.Sprint(j)
			}
			fmt.Fprintf(out, "leg %d  %-5s %-4s asset %d ratio %d strike %d width %d range [%d,%d) partner %s\n",
				i, leg.Direction, leg.TokenType, leg.Asset, leg.Ratio, leg.Strike, leg.Width,
				chunks[i].Lower, chunks[i].Upper, partner)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(marketsCmd, decodeCmd)
}
