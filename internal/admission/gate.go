// Package admission bounds the number of simultaneous upstream calls.
package admission

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission gate shared by all frontdoors.
type Gate struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// New creates a gate admitting at most limit concurrent holders.
// A limit below one is treated as one.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// func is safe to call more than once; only the first call frees the slot.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		})
	}, nil
}

// InFlight reports how many slots are currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Limit reports the configured capacity.
func (g *Gate) Limit() int {
	return g.limit
}
