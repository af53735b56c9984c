// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tokenid

import (
	"encoding/binary"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// EmptyListHash is the hash of an account holding no positions.
var EmptyListHash = common.Hash{}

// HashList returns the order-sensitive authorization hash of a position list:
// BLAKE3(count || id_0 || ... || id_n). The empty list hashes to EmptyListHash.
func HashList(ids []ID) common.Hash {
	if len(ids) == 0 {
		return EmptyListHash
	}
	h := blake3.New()
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(ids)))
	h.Write(count[:])
	for _, id := range ids {
		b := id.Bytes32()
		h.Write(b[:])
	}
	var out common.Hash
	h.Digest().Read(out[:])
	return out
}

// IndexOf returns the position of id in ids, or -1.
func IndexOf(ids []ID, id ID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

// HasDuplicates reports whether any id appears twice.
func HasDuplicates(ids []ID) bool {
	seen := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// Without returns a copy of ids with the entry at index i removed, order kept.
func Without(ids []ID, i int) []ID {
	out := make([]ID, 0, len(ids)-1)
	out = append(out, ids[:i]...)
	return append(out, ids[i+1:]...)
}

// Equal reports whether two lists hold the same ids in the same order.
func Equal(a, b []ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
