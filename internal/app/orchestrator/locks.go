package orchestrator

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

const lockShards = 64

// LockTable serializes work per asset. Slots are created on demand and
// dropped when the last holder or waiter leaves, so distinct assets never
// share a lock and idle assets cost nothing.
//
// Every caller registers the sequence it carries, which lets a holder see
// whether a lower sequence for the same asset is still in flight.
type LockTable struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	slots map[domain.AssetKey]*assetSlot
}

// assetSlot fields other than sem are guarded by the shard mutex.
type assetSlot struct {
	sem     chan struct{}
	refs    int
	pending map[uint64]int
	// flush is set once a waiter's reorder window ran out; lower waiters
	// then stop waiting for gaps to fill. Reset when nobody is pending.
	flush bool
	// changed is closed and replaced on every commit or departure.
	changed chan struct{}
}

func NewLockTable() *LockTable {
	t := &LockTable{}
	for i := range t.shards {
		t.shards[i].slots = make(map[domain.AssetKey]*assetSlot)
	}
	return t
}

func (t *LockTable) shard(key domain.AssetKey) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(key.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(key.AssetID))
	return &t.shards[h.Sum32()%lockShards]
}

// AssetLock is a held (or temporarily released) per-asset lock.
type AssetLock struct {
	shard *lockShard
	key   domain.AssetKey
	seq   uint64
	slot  *assetSlot
	held  bool
}

// Acquire registers seq as pending for key and blocks until the asset is
// free or ctx is done.
func (t *LockTable) Acquire(ctx context.Context, key domain.AssetKey, seq uint64) (*AssetLock, error) {
	sh := t.shard(key)
	sh.mu.Lock()
	slot, ok := sh.slots[key]
	if !ok {
		slot = &assetSlot{
			sem:     make(chan struct{}, 1),
			pending: make(map[uint64]int),
			changed: make(chan struct{}),
		}
		sh.slots[key] = slot
	}
	slot.refs++
	slot.pending[seq]++
	sh.mu.Unlock()

	l := &AssetLock{shard: sh, key: key, seq: seq, slot: slot}
	if err := l.lock(ctx); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

func (l *AssetLock) lock(ctx context.Context) error {
	select {
	case l.slot.sem <- struct{}{}:
		l.held = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LowerPending reports whether another caller holding a lower sequence for
// the same asset is waiting or in flight.
func (l *AssetLock) LowerPending() bool {
	l.shard.mu.Lock()
	defer l.shard.mu.Unlock()
	for seq := range l.slot.pending {
		if seq < l.seq {
			return true
		}
	}
	return false
}

// Flush marks the asset's reorder window as spent and wakes every waiter.
func (l *AssetLock) Flush() {
	l.shard.mu.Lock()
	defer l.shard.mu.Unlock()
	l.slot.flush = true
	l.signalLocked()
}

// Flushing reports whether Flush was called since the asset last went idle.
func (l *AssetLock) Flushing() bool {
	l.shard.mu.Lock()
	defer l.shard.mu.Unlock()
	return l.slot.flush
}

// Advance wakes every goroutine parked in WaitAdvance. Call it after a
// commit.
func (l *AssetLock) Advance() {
	l.shard.mu.Lock()
	l.signalLocked()
	l.shard.mu.Unlock()
}

func (l *AssetLock) signalLocked() {
	close(l.slot.changed)
	l.slot.changed = make(chan struct{})
}

// WaitAdvance gives the lock up until another holder commits or leaves, the
// timeout elapses, or ctx is done, then takes it back. On error the lock is
// not held.
func (l *AssetLock) WaitAdvance(ctx context.Context, timeout time.Duration) error {
	l.shard.mu.Lock()
	ch := l.slot.changed
	l.shard.mu.Unlock()

	l.held = false
	<-l.slot.sem

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return l.lock(ctx)
}

// Release unlocks (if held), withdraws the pending sequence and drops the
// reference on the slot.
func (l *AssetLock) Release() {
	if l.held {
		l.held = false
		<-l.slot.sem
	}
	sh := l.shard
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if l.slot.pending[l.seq]--; l.slot.pending[l.seq] <= 0 {
		delete(l.slot.pending, l.seq)
	}
	if len(l.slot.pending) == 0 {
		l.slot.flush = false
	}
	l.signalLocked()

	l.slot.refs--
	if l.slot.refs == 0 {
		delete(sh.slots, l.key)
	}
}

// Len reports the number of assets currently locked or waited on.
func (t *LockTable) Len() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].slots)
		t.shards[i].mu.Unlock()
	}
	return n
}
