// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	log "github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/parsdao/options/config"
	"github.com/parsdao/options/markets"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "optionsim",
	Short: "optionsim - options core simulator",
	Long: `optionsim runs the options core against an in-memory AMM pool.
It decodes position ids, lists configured markets and replays margin
scenarios end to end: deposit, mint, price move, valuation and liquidation.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (TOML, JSON or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine operations")
}

// demoMarket is used when the configuration names no markets.
var demoMarket = config.Market{
	Name:        "DEMO",
	Address:     "0x4444444444444444444444444444444444444444",
	TickSpacing: 10,
	InitialTick: 100,
}

// loadConfig reads the configuration and fills in the demo market.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = []config.Market{demoMarket}
	}
	return cfg, nil
}

// loadRegistry registers every configured market.
func loadRegistry(cfg *config.Config) (*markets.Registry, error) {
	reg := markets.NewRegistry()
	for _, m := range cfg.Markets {
		if err := reg.Register(markets.FromConfig(m)); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.Name, err)
		}
	}
	return reg, nil
}

func logger() log.Logger {
	if verbose {
		return log.Root()
	}
	return log.NewNoOpLogger()
}

func main() {
	Execute()
}
