// Package keylock serializes work per key using a fixed set of sharded
// locks. Different keys may share a shard; the same key always does.
package keylock

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by New.
const DefaultShards = 128

// Table is a sharded lock table. The zero value is not usable.
type Table struct {
	shards []chan struct{}
}

// New returns a table with DefaultShards shards.
func New() *Table {
	return NewWithShards(DefaultShards)
}

// NewWithShards returns a table with n shards (at least one).
func NewWithShards(n int) *Table {
	if n < 1 {
		n = 1
	}
	t := &Table{shards: make([]chan struct{}, n)}
	for i := range t.shards {
		t.shards[i] = make(chan struct{}, 1)
	}
	return t
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	shard := t.shards[t.shard(key)]
	select {
	case shard <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// Check again after acquiring the lock.
	if err := ctx.Err(); err != nil {
		<-shard
		return nil, err
	}
	return func() { <-shard }, nil
}

func (t *Table) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.shards)))
}
