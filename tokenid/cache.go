// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tokenid

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when NewCache is given a non-positive size.
const DefaultCacheSize = 1024

// Cache memoizes Decode. Only successfully decoded ids are stored.
// The lru cache is internally locked, so a Cache is safe for concurrent use.
type Cache struct {
	decoded *lru.Cache[ID, Position]
}

// NewCache creates a decode cache holding up to size positions.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	decoded, err := lru.New[ID, Position](size)
	if err != nil {
		return nil, err
	}
	return &Cache{decoded: decoded}, nil
}

// Decode returns the decoded position for id. The result is a copy the
// caller may modify.
func (c *Cache) Decode(id ID) (Position, error) {
	if p, ok := c.decoded.Get(id); ok {
		return p.Clone(), nil
	}
	p, err := Decode(id)
	if err != nil {
		return Position{}, err
	}
	c.decoded.Add(id, p.Clone())
	return p, nil
}

// Len returns the number of cached positions.
func (c *Cache) Len() int { return c.decoded.Len() }
