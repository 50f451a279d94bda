package throttle

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

// Memory is the process-local Counter. State is sharded by recipient id so
// concurrent dispatch for independent recipients does not contend on one
// lock.
type Memory struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu sync.Mutex
	// most recently used bucket per recipient
	entries map[string]memoryEntry
}

type memoryEntry struct {
	bucket string
	count  int
}

func NewMemory() *Memory {
	m := &Memory{}
	for i := range m.shards {
		m.shards[i].entries = map[string]memoryEntry{}
	}
	return m
}

func (m *Memory) shard(recipientID string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(recipientID))
	return &m.shards[h.Sum32()%memoryShards]
}

func (m *Memory) Count(_ context.Context, recipientID string, t time.Time) (int, error) {
	sh := m.shard(recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[recipientID]
	if !ok || e.bucket != hourBucket(t) {
		// Either never used or the hour rolled over; the old bucket is
		// superseded, not deleted.
		return 0, nil
	}
	return e.count, nil
}

func (m *Memory) Increment(_ context.Context, recipientID string, t time.Time) (int, error) {
	sh := m.shard(recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	bucket := hourBucket(t)
	e := sh.entries[recipientID]
	if e.bucket != bucket {
		e = memoryEntry{bucket: bucket}
	}
	e.count++
	sh.entries[recipientID] = e
	return e.count, nil
}
