// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tokenid packs a multi-leg option position and the pool it belongs to
// into a single 256-bit identifier.
//
// Layout (bit 0 is the least significant):
//
//	[0, 64)    pool reference: 48-bit pool address prefix | 16-bit tick spacing
//	[64, 256)  four 48-bit leg slots, slot i starting at 64 + 48*i
//
// Each slot, least significant field first:
//
//	asset(1) | ratio(7) | isLong(1) | tokenType(1) | riskPartner(2) | strike(24) | width(12)
//
// A slot with ratio 0 is empty. Legs are contiguous from slot 0.
package tokenid

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/tickmath"
)

// MaxLegs is the number of leg slots in an ID.
const MaxLegs = 4

// Field widths
const (
	poolRefBits     = 64
	poolAddrBits    = 48
	legBits         = 48
	ratioBits       = 7
	riskPartnerBits = 2
	strikeBits      = 24
	widthBits       = 12

	MaxRatio  = 1<<ratioBits - 1
	MaxWidth  = 1<<widthBits - 1
	MaxStrike = 1<<(strikeBits-1) - 1
	MinStrike = -(1 << (strikeBits - 1))
)

// TokenType selects the collateral token of a leg.
type TokenType uint8

const (
	Call TokenType = 0 // collateral in token0
	Put  TokenType = 1 // collateral in token1
)

// Token returns the collateral token index.
func (t TokenType) Token() uint8 { return uint8(t) }

func (t TokenType) String() string {
	if t == Put {
		return "put"
	}
	return "call"
}

// Direction is whether liquidity is sold (added to the AMM) or bought
// (removed from it).
type Direction uint8

const (
	Short Direction = 0
	Long  Direction = 1
)

func (d Direction) String() string {
	if d == Long {
		return "long"
	}
	return "short"
}

// Leg is one option leg.
type Leg struct {
	Asset       uint8
	Ratio       uint8
	Direction   Direction
	TokenType   TokenType
	RiskPartner uint8
	Strike      int32
	Width       uint16
}

// IsLong reports whether the leg removes liquidity.
func (l Leg) IsLong() bool { return l.Direction == Long }

// TickRange returns the leg's liquidity chunk for the given tick spacing:
// [strike - w/2, strike + w - w/2] with w = width * tickSpacing.
func (l Leg) TickRange(tickSpacing int32) (tickmath.Chunk, error) {
	if tickSpacing <= 0 {
		return tickmath.Chunk{}, fmt.Errorf("%w: tick spacing %d", errs.ErrInvalidLegParameter, tickSpacing)
	}
	rangeWidth := int64(l.Width) * int64(tickSpacing)
	lower := int64(l.Strike) - rangeWidth/2
	upper := int64(l.Strike) + rangeWidth - rangeWidth/2

	if lower < int64(tickmath.MinTick) || upper > int64(tickmath.MaxTick) {
		return tickmath.Chunk{}, fmt.Errorf("%w: range [%d,%d] outside tick bounds",
			errs.ErrInvalidLegParameter, lower, upper)
	}
	if lower%int64(tickSpacing) != 0 || upper%int64(tickSpacing) != 0 {
		return tickmath.Chunk{}, fmt.Errorf("%w: range [%d,%d] not aligned to spacing %d",
			errs.ErrInvalidLegParameter, lower, upper, tickSpacing)
	}
	return tickmath.Chunk{Lower: int32(lower), Upper: int32(upper)}, nil
}

// PoolRef binds an ID to one market: the first six bytes of the pool address
// in the low 48 bits, the pool's tick spacing in the high 16.
type PoolRef uint64

// PoolRefFromAddress builds the reference of the pool at addr.
func PoolRefFromAddress(addr common.Address, tickSpacing uint16) PoolRef {
	var prefix [8]byte
	copy(prefix[2:], addr[:6])
	return PoolRef(binary.BigEndian.Uint64(prefix[:]) | uint64(tickSpacing)<<poolAddrBits)
}

// TickSpacing returns the tick spacing carried by the reference.
func (r PoolRef) TickSpacing() int32 { return int32(uint64(r) >> poolAddrBits) }

// AddressPrefix returns the truncated pool address.
func (r PoolRef) AddressPrefix() uint64 { return uint64(r) & (1<<poolAddrBits - 1) }

func (r PoolRef) String() string {
	return fmt.Sprintf("%012x/%d", r.AddressPrefix(), r.TickSpacing())
}

// Position is the decoded form of an ID.
type Position struct {
	Pool PoolRef
	Legs []Leg
}

// LegCount returns the number of legs.
func (p Position) LegCount() int { return len(p.Legs) }

// Partner returns the index of leg i's risk partner, or false when the leg
// is unpartnered.
func (p Position) Partner(i int) (int, bool) {
	j := int(p.Legs[i].RiskPartner)
	return j, j != i
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	legs := make([]Leg, len(p.Legs))
	copy(legs, p.Legs)
	return Position{Pool: p.Pool, Legs: legs}
}

// Chunks returns the tick range of every leg.
func (p Position) Chunks() ([]tickmath.Chunk, error) {
	chunks := make([]tickmath.Chunk, len(p.Legs))
	for i, leg := range p.Legs {
		c, err := leg.TickRange(p.Pool.TickSpacing())
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		chunks[i] = c
	}
	return chunks, nil
}

// Validate runs the structural checks and binds the position to pool.
func (p Position) Validate(pool PoolRef) error {
	if err := p.validateLegs(); err != nil {
		return err
	}
	if p.Pool != pool {
		return fmt.Errorf("%w: pool %s, operating on %s", errs.ErrInvalidLegParameter, p.Pool, pool)
	}
	_, err := p.Chunks()
	return err
}

// ID is a packed position identifier. The zero ID is not a valid position.
type ID struct {
	v uint256.Int
}

// FromUint256 wraps an already packed integer. No validation is done.
func FromUint256(v *uint256.Int) ID {
	var id ID
	id.v.Set(v)
	return id
}

// FromBig converts a big integer, failing when it exceeds 256 bits.
func FromBig(b *big.Int) (ID, error) {
	v, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return ID{}, errs.Overflow("id exceeds 256 bits")
	}
	return FromUint256(v), nil
}

// FromHex parses a 0x-prefixed hex id.
func FromHex(s string) (ID, error) {
	v, err := uint256.FromHex(s)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", errs.ErrInvalidLegParameter, err)
	}
	return FromUint256(v), nil
}

// FromBytes32 reads a big-endian 32 byte id.
func FromBytes32(b [32]byte) ID {
	var id ID
	id.v.SetBytes32(b[:])
	return id
}

// Uint256 returns a copy of the packed integer.
func (id ID) Uint256() *uint256.Int { return new(uint256.Int).Set(&id.v) }

// Big returns the packed integer as a big.Int.
func (id ID) Big() *big.Int { return id.v.ToBig() }

// Bytes32 returns the big-endian encoding.
func (id ID) Bytes32() [32]byte { return id.v.Bytes32() }

// Hex returns the 0x-prefixed hex encoding.
func (id ID) Hex() string { return id.v.Hex() }

func (id ID) String() string { return id.Hex() }

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool { return id.v.IsZero() }

// PoolRef returns the pool reference without decoding the legs.
func (id ID) PoolRef() PoolRef { return PoolRef(id.v.Uint64()) }

// LegCount returns the number of leading non-empty slots.
func (id ID) LegCount() int {
	n := 0
	for n < MaxLegs && ratioOf(id.slot(n)) != 0 {
		n++
	}
	return n
}

func (id ID) slot(i int) uint64 {
	shifted := new(uint256.Int).Rsh(&id.v, uint(poolRefBits+legBits*i))
	return shifted.Uint64() & (1<<legBits - 1)
}

func ratioOf(slot uint64) uint64 { return (slot >> 1) & MaxRatio }
