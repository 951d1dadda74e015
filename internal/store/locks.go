package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// lockTable hands out one mutex per context id. Entries are reference
// counted and removed when the last holder releases them, so the table only
// grows with the number of ids being mutated concurrently. The shard mutex
// guards only the map, never the critical section itself.
type lockTable struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until the caller holds id's lock and returns the release func.
func (t *lockTable) lock(id string) (unlock func()) {
	sh := &t.shards[xxhash.Sum64String(id)%lockShards]

	sh.mu.Lock()
	if sh.locks == nil {
		sh.locks = make(map[string]*idLock)
	}
	l, ok := sh.locks[id]
	if !ok {
		l = &idLock{}
		sh.locks[id] = l
	}
	l.refs++
	sh.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sh.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sh.locks, id)
		}
		sh.mu.Unlock()
	}
}

// size returns the number of live entries, for tests.
func (t *lockTable) size() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
