// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides the journaled slot store every component of the
// options core keeps its state in. Writes are buffered in memory, can be
// reverted to any snapshot, and are flushed to a key-value database on
// Commit.
package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// StateDB is the slot interface consumed by the ledger, vault, AMM and engine.
type StateDB interface {
	GetState(addr common.Address, key common.Hash) common.Hash
	SetState(addr common.Address, key common.Hash, value common.Hash)
}

var ErrInvalidSnapshot = errors.New("invalid snapshot id")

var heightKey = []byte("state/height")

type slot struct {
	addr common.Address
	key  common.Hash
}

type journalEntry struct {
	slot    slot
	prev    common.Hash
	hadPrev bool
}

// Store is a journaled overlay over a database.Database. It is not safe for
// concurrent use; the engine serializes access.
type Store struct {
	db database.Database

	// dirty holds writes not yet committed
	dirty map[slot]common.Hash

	// journal records the previous dirty value of every write
	journal []journalEntry

	// height counts successful commits
	height uint64

	// dbErr is the first read error from the backing database
	dbErr error
}

// New creates a store backed by db.
func New(db database.Database) (*Store, error) {
	s := &Store{
		db:    db,
		dirty: make(map[slot]common.Hash),
	}
	raw, err := db.Get(heightKey)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("read height: %w", err)
	default:
		s.height = new(uint256.Int).SetBytes(raw).Uint64()
	}
	return s, nil
}

func dbKey(addr common.Address, key common.Hash) []byte {
	out := make([]byte, 0, common.AddressLength+common.HashLength)
	out = append(out, addr.Bytes()...)
	return append(out, key.Bytes()...)
}

// GetState returns the value of a slot, or the zero hash.
func (s *Store) GetState(addr common.Address, key common.Hash) common.Hash {
	if v, ok := s.dirty[slot{addr, key}]; ok {
		return v
	}
	raw, err := s.db.Get(dbKey(addr, key))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) && s.dbErr == nil {
			s.dbErr = err
		}
		return common.Hash{}
	}
	return common.BytesToHash(raw)
}

// SetState writes a slot.
func (s *Store) SetState(addr common.Address, key common.Hash, value common.Hash) {
	k := slot{addr, key}
	prev, had := s.dirty[k]
	s.journal = append(s.journal, journalEntry{slot: k, prev: prev, hadPrev: had})
	s.dirty[k] = value
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (s *Store) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (s *Store) RevertToSnapshot(id int) error {
	if id < 0 || id > len(s.journal) {
		return fmt.Errorf("%w: %d (journal length %d)", ErrInvalidSnapshot, id, len(s.journal))
	}
	for i := len(s.journal) - 1; i >= id; i-- {
		e := s.journal[i]
		if e.hadPrev {
			s.dirty[e.slot] = e.prev
		} else {
			delete(s.dirty, e.slot)
		}
	}
	s.journal = s.journal[:id]
	return nil
}

// Commit flushes pending writes to the database in one batch. Zero values
// delete the slot.
func (s *Store) Commit() error {
	if s.dbErr != nil {
		return fmt.Errorf("state read failed before commit: %w", s.dbErr)
	}
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		var err error
		if v == (common.Hash{}) {
			err = batch.Delete(dbKey(k.addr, k.key))
		} else {
			err = batch.Put(dbKey(k.addr, k.key), v.Bytes())
		}
		if err != nil {
			return err
		}
	}
	height := uint256.NewInt(s.height + 1).Bytes32()
	if err := batch.Put(heightKey, height[:]); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.height++
	s.dirty = make(map[slot]common.Hash)
	s.journal = s.journal[:0]
	return nil
}

// Discard drops every uncommitted write.
func (s *Store) Discard() {
	s.dirty = make(map[slot]common.Hash)
	s.journal = s.journal[:0]
	s.dbErr = nil
}

// Height returns the number of commits applied to the backing database.
func (s *Store) Height() uint64 { return s.height }

// Error returns the first database read error, if any.
func (s *Store) Error() error { return s.dbErr }

// Key derives a slot key from a prefix and identifiers.
func Key(prefix []byte, ids ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, id := range ids {
		h.Write(id)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// IndexKey offsets a base key by i, for array-like layouts.
func IndexKey(base common.Hash, i uint64) common.Hash {
	v := new(uint256.Int).SetBytes32(base[:])
	v.AddUint64(v, i)
	return v.Bytes32()
}

// GetUint256 reads a slot as a 256-bit integer.
func GetUint256(db StateDB, addr common.Address, key common.Hash) *uint256.Int {
	v := db.GetState(addr, key)
	return new(uint256.Int).SetBytes32(v[:])
}

// SetUint256 writes a 256-bit integer to a slot.
func SetUint256(db StateDB, addr common.Address, key common.Hash, v *uint256.Int) {
	db.SetState(addr, key, v.Bytes32())
}
