package ratelimit

import (
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-shield/types"
)

const localShardCount = 64

type localShard struct {
	windows map[string]*localWindow
	mu      sync.RWMutex
	_       [56]byte
}

type localWindow struct {
	count   int64
	resetAt int64
}

// localCounter is the per-process window store used when the distributed
// backend is unreachable. Same window semantics as the backend script, but
// scoped to this process only.
type localCounter struct {
	shards     [localShardCount]*localShard
	hasherPool sync.Pool
	lastSweep  int64
}

func newLocalCounter() *localCounter {
	lc := &localCounter{
		hasherPool: sync.Pool{
			New: func() interface{} {
				return fnv.New32a()
			},
		},
	}

	for i := range lc.shards {
		lc.shards[i] = &localShard{
			windows: make(map[string]*localWindow, 64),
		}
	}

	return lc
}

func (lc *localCounter) incr(key string, window time.Duration) types.WindowCount {
	now := time.Now()
	shard := lc.shard(key)

	shard.mu.Lock()
	w, exists := shard.windows[key]
	if !exists || now.UnixNano() > atomic.LoadInt64(&w.resetAt) {
		w = &localWindow{resetAt: now.Add(window).UnixNano()}
		shard.windows[key] = w
	}
	count := atomic.AddInt64(&w.count, 1)
	resetAt := atomic.LoadInt64(&w.resetAt)
	shard.mu.Unlock()

	lc.maybeSweep(now)

	return types.WindowCount{
		Count:     count,
		Remaining: time.Duration(resetAt - now.UnixNano()),
	}
}

func (lc *localCounter) shard(key string) *localShard {
	hasher := lc.hasherPool.Get().(hash.Hash32)
	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	h := hasher.Sum32()
	lc.hasherPool.Put(hasher)

	return lc.shards[h&(localShardCount-1)]
}

// maybeSweep drops expired windows at most once a minute. The CAS keeps
// concurrent callers from sweeping simultaneously.
func (lc *localCounter) maybeSweep(now time.Time) {
	last := atomic.LoadInt64(&lc.lastSweep)
	if now.UnixNano()-last < int64(time.Minute) {
		return
	}
	if !atomic.CompareAndSwapInt64(&lc.lastSweep, last, now.UnixNano()) {
		return
	}

	cutoff := now.UnixNano()
	for _, shard := range lc.shards {
		shard.mu.Lock()
		for key, w := range shard.windows {
			if atomic.LoadInt64(&w.resetAt) < cutoff {
				delete(shard.windows, key)
			}
		}
		shard.mu.Unlock()
	}
}
