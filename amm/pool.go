// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package amm is the concentrated-liquidity collaborator of the options core:
// a price oracle plus a mover of liquidity in and out of tick chunks.
package amm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/parsdao/options/errs"
	"github.com/parsdao/options/state"
	"github.com/parsdao/options/tickmath"
	"github.com/parsdao/options/tokenid"
)

var ErrPoolNotInitialized = errors.New("pool not initialized")

// Storage key prefixes for pool state
var (
	slot0Prefix   = []byte("amm/slot0")
	netPrefix     = []byte("amm/net")
	removedPrefix = []byte("amm/rem")
)

// Move is the kind of liquidity change requested for a chunk.
type Move uint8

const (
	Add    Move = iota // short leg opened: seller adds liquidity
	Remove             // short leg closed
	Borrow             // long leg opened: removes sold liquidity
	Repay              // long leg closed: borrowed liquidity returned
)

func (m Move) String() string {
	switch m {
	case Add:
		return "add"
	case Remove:
		return "remove"
	case Borrow:
		return "borrow"
	default:
		return "repay"
	}
}

// Opening returns the move that opens a leg of direction d.
func Opening(d tokenid.Direction) Move {
	if d == tokenid.Long {
		return Borrow
	}
	return Add
}

// Closing returns the move that closes a leg of direction d.
func Closing(d tokenid.Direction) Move {
	if d == tokenid.Long {
		return Repay
	}
	return Remove
}

// AMM is the interface consumed by the engine.
type AMM interface {
	// CurrentTick returns the pool's current tick.
	CurrentTick() int32
	// Ref returns the reference ids minted against this pool must carry.
	Ref() tokenid.PoolRef
	// MoveNotional applies m to chunk and returns the token amounts the
	// liquidity represents at the current tick.
	MoveNotional(chunk tickmath.Chunk, m Move, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error)
	// ChunkLiquidity returns the net liquidity in chunk and the part of it
	// removed by long legs.
	ChunkLiquidity(chunk tickmath.Chunk) (net, removed *uint256.Int)
}

// Pool is an AMM simulator whose state lives in a StateDB. Swap moves the
// price directly to a tick.
type Pool struct {
	db          state.StateDB
	addr        common.Address
	tickSpacing uint16
}

var _ AMM = (*Pool)(nil)

// NewPool creates a pool at addr. Initialize must be called before use
// unless the pool already exists in db.
func NewPool(db state.StateDB, addr common.Address, tickSpacing uint16) *Pool {
	return &Pool{db: db, addr: addr, tickSpacing: tickSpacing}
}

// Address returns the pool address.
func (p *Pool) Address() common.Address { return p.addr }

// Initialize sets the starting tick.
func (p *Pool) Initialize(tick int32) error {
	if p.tickSpacing == 0 {
		return fmt.Errorf("%w: zero tick spacing", errs.ErrInvalidLegParameter)
	}
	return p.Swap(tick)
}

// Initialized reports whether the pool has a price.
func (p *Pool) Initialized() bool {
	return p.db.GetState(p.addr, state.Key(slot0Prefix)) != (common.Hash{})
}

// slot0 packs an initialized flag in byte 0 and the tick in bytes 28..31.
func (p *Pool) slot0() (int32, bool) {
	v := p.db.GetState(p.addr, state.Key(slot0Prefix))
	if v[0] == 0 {
		return 0, false
	}
	return int32(binary.BigEndian.Uint32(v[28:])), true
}

// CurrentTick returns the current tick, 0 when uninitialized.
func (p *Pool) CurrentTick() int32 {
	tick, _ := p.slot0()
	return tick
}

// SqrtPriceX96 returns the square-root price at the current tick.
func (p *Pool) SqrtPriceX96() *uint256.Int {
	return tickmath.MustSqrtRatioAtTick(p.CurrentTick())
}

// Ref returns the pool reference.
func (p *Pool) Ref() tokenid.PoolRef {
	return tokenid.PoolRefFromAddress(p.addr, p.tickSpacing)
}

// Swap moves the price to tick.
func (p *Pool) Swap(tick int32) error {
	if tick < tickmath.MinTick || tick >= tickmath.MaxTick {
		return fmt.Errorf("%w: %d", tickmath.ErrTickOutOfRange, tick)
	}
	var v common.Hash
	v[0] = 1
	binary.BigEndian.PutUint32(v[28:], uint32(tick))
	p.db.SetState(p.addr, state.Key(slot0Prefix), v)
	return nil
}

func chunkKey(prefix []byte, c tickmath.Chunk) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], uint32(c.Lower))
	binary.BigEndian.PutUint32(b[4:], uint32(c.Upper))
	return state.Key(prefix, b[:])
}

// ChunkLiquidity returns net and removed liquidity of chunk.
func (p *Pool) ChunkLiquidity(c tickmath.Chunk) (net, removed *uint256.Int) {
	return state.GetUint256(p.db, p.addr, chunkKey(netPrefix, c)),
		state.GetUint256(p.db, p.addr, chunkKey(removedPrefix, c))
}

// MoveNotional applies m to the chunk.
func (p *Pool) MoveNotional(c tickmath.Chunk, m Move, liquidity *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	tick, ok := p.slot0()
	if !ok {
		return nil, nil, ErrPoolNotInitialized
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	net, removed := p.ChunkLiquidity(c)

	switch m {
	case Add:
		if _, overflow := net.AddOverflow(net, liquidity); overflow {
			return nil, nil, errs.Overflow("chunk liquidity")
		}
	case Remove, Borrow:
		if net.Lt(liquidity) {
			return nil, nil, fmt.Errorf("%w: chunk [%d,%d) has %s, %s needs %s",
				errs.ErrNotEnoughLiquidity, c.Lower, c.Upper, net.Dec(), m, liquidity.Dec())
		}
		net.Sub(net, liquidity)
		if m == Borrow {
			removed.Add(removed, liquidity)
		}
	case Repay:
		if removed.Lt(liquidity) {
			return nil, nil, fmt.Errorf("%w: repay %s exceeds removed %s", errs.ErrUnderOverFlow, liquidity.Dec(), removed.Dec())
		}
		removed.Sub(removed, liquidity)
		net.Add(net, liquidity)
	default:
		return nil, nil, fmt.Errorf("unknown move %d", m)
	}

	amount0, amount1, err := tickmath.AmountsAtTick(tick, c, liquidity)
	if err != nil {
		return nil, nil, err
	}
	state.SetUint256(p.db, p.addr, chunkKey(netPrefix, c), net)
	state.SetUint256(p.db, p.addr, chunkKey(removedPrefix, c), removed)
	return amount0, amount1, nil
}
