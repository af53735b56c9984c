// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package markets registers the AMM pools the options core trades against.
package markets

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/config"
	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tokenid"
)

var (
	ErrReservedAddress   = errors.New("market address is reserved")
	ErrDuplicateMarket   = errors.New("market already registered")
	ErrPoolRefCollision  = errors.New("pool reference collides with a registered market")
	ErrInvalidMarketSpec = errors.New("invalid market")
)

// AddressRange represents a continuous range of addresses
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains returns true iff [addr] is contained within the (inclusive)
// range of addresses defined by [a].
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// SystemRange holds the accounts of the core itself: ledger, vault and the
// passive pool.
var SystemRange = AddressRange{
	Start: common.HexToAddress("0x0000000000000000000000000000000000009100"),
	End:   common.HexToAddress("0x00000000000000000000000000000000000091ff"),
}

// Addresses no pool may use
var reservedRanges = []AddressRange{
	SystemRange,
	// Zero address
	{
		Start: common.HexToAddress("0x0000000000000000000000000000000000000000"),
		End:   common.HexToAddress("0x0000000000000000000000000000000000000000"),
	},
	// 0x0000...dEaD
	{
		Start: common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		End:   common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
	},
	// 0xdEaD...0000
	{
		Start: common.HexToAddress("0xdEaD000000000000000000000000000000000000"),
		End:   common.HexToAddress("0xdEaD000000000000000000000000000000000000"),
	},
}

// ReservedAddress returns true if [addr] may not host a market.
func ReservedAddress(addr common.Address) bool {
	for _, reservedRange := range reservedRanges {
		if reservedRange.Contains(addr) {
			return true
		}
	}
	return false
}

// Market is one registered pool.
type Market struct {
	Name        string
	Address     common.Address
	TickSpacing uint16
	InitialTick int32
}

// FromConfig converts a configured market. The address must already have
// passed config verification.
func FromConfig(m config.Market) Market {
	return Market{
		Name:        m.Name,
		Address:     common.HexToAddress(m.Address),
		TickSpacing: m.TickSpacing,
		InitialTick: m.InitialTick,
	}
}

// Ref returns the pool reference ids minted on this market carry.
func (m Market) Ref() tokenid.PoolRef {
	return tokenid.PoolRefFromAddress(m.Address, m.TickSpacing)
}

// Registry keeps markets sorted by address for deterministic iteration.
type Registry struct {
	mu      sync.RWMutex
	markets []Market
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{markets: make([]Market, 0)}
}

// Register adds m. Two pools whose truncated references collide cannot both
// be registered, since their ids would be indistinguishable.
func (r *Registry) Register(m Market) error {
	if m.Name == "" || m.TickSpacing == 0 {
		return fmt.Errorf("%w: name %q tick spacing %d", ErrInvalidMarketSpec, m.Name, m.TickSpacing)
	}
	if ReservedAddress(m.Address) {
		return fmt.Errorf("%w: %s", ErrReservedAddress, m.Address)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, registered := range r.markets {
		if registered.Name == m.Name {
			return fmt.Errorf("%w: name %s", ErrDuplicateMarket, m.Name)
		}
		if registered.Address == m.Address {
			return fmt.Errorf("%w: address %s", ErrDuplicateMarket, m.Address)
		}
		if registered.Ref().AddressPrefix() == m.Ref().AddressPrefix() {
			return fmt.Errorf("%w: %s and %s share prefix %012x",
				ErrPoolRefCollision, registered.Address, m.Address, m.Ref().AddressPrefix())
		}
	}
	r.markets = append(r.markets, m)
	sort.Slice(r.markets, func(i, j int) bool {
		return bytes.Compare(r.markets[i].Address[:], r.markets[j].Address[:]) < 0
	})
	return nil
}

// ByAddress returns the market at addr.
func (r *Registry) ByAddress(addr common.Address) (Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.markets {
		if m.Address == addr {
			return m, true
		}
	}
	return Market{}, false
}

// ByName returns the market registered as name.
func (r *Registry) ByName(name string) (Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.markets {
		if m.Name == name {
			return m, true
		}
	}
	return Market{}, false
}

// ByRef returns the market a position id belongs to.
func (r *Registry) ByRef(ref tokenid.PoolRef) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.markets {
		if m.Ref() == ref {
			return m, nil
		}
	}
	return Market{}, fmt.Errorf("%w: %s", errs.ErrUnknownMarket, ref)
}

// Markets returns registered markets in address order.
func (r *Registry) Markets() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Market, len(r.markets))
	copy(out, r.markets)
	return out
}
