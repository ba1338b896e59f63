// Package syncutil provides keyed locking primitives used to serialize
// pipeline evaluation and trust updates per user identity.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// UserMutex provides a fixed-size pool of channel-based mutexes keyed by
// user ID, with context cancellation while waiting. Bounded memory regardless
// of how many users are seen, at the cost of occasional false sharing between
// users that hash to the same shard.
type UserMutex struct {
	shards [256]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// with a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

// NewUserMutex creates a new context-aware keyed mutex pool.
func NewUserMutex() *UserMutex {
	m := &UserMutex{}
	m.init()
	return m
}

func (m *UserMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // Start unlocked.
		}
	})
}

// Lock acquires the mutex for the given user ID, respecting context
// cancellation. On success, returns an unlock function the caller MUST call.
// On cancellation, returns nil and the context error.
func (m *UserMutex) Lock(ctx context.Context, userID string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(userID)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *UserMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % 256
}
