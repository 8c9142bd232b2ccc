package application

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const lockShards = 256

// SubscriptionLocks serializes mutating operations per subscription. Locks are
// sharded by subscription ID; operations on distinct subscriptions proceed
// independently (modulo shard collisions).
type SubscriptionLocks struct {
	shards [lockShards]sync.Mutex
}

// NewSubscriptionLocks creates a new lock set.
func NewSubscriptionLocks() *SubscriptionLocks {
	return &SubscriptionLocks{}
}

// Lock acquires the lock for the subscription.
func (l *SubscriptionLocks) Lock(id uuid.UUID) {
	l.shards[shardFor(id)].Lock()
}

// Unlock releases the lock for the subscription.
func (l *SubscriptionLocks) Unlock(id uuid.UUID) {
	l.shards[shardFor(id)].Unlock()
}

func shardFor(id uuid.UUID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return h.Sum32() % lockShards
}
