package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	jetstream.KeyValueEntry
	val []byte
}

func (e fakeEntry) Value() []byte { return e.val }

type fakeKV struct {
	jetstream.KeyValue
	mu       sync.Mutex
	data     map[string][]byte
	putErr   error
	deadline bool
}

func (f *fakeKV) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	if f.putErr != nil {
		return 0, f.putErr
	}
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[key] = value
	return uint64(len(f.data)), nil
}

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{val: v}, nil
}

func TestKVMirrorRoundTrip(t *testing.T) {
	kv := &fakeKV{}
	m := NewKVMirror(kv, time.Second)

	fields := map[string]string{"damage": "0.1", "rul": "9"}
	require.NoError(t, m.Set(context.Background(), "tenant.t1.asset.pump-1.state", fields))
	assert.True(t, kv.deadline, "timeout should bound the put")

	got, err := m.Get(context.Background(), "tenant.t1.asset.pump-1.state")
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	_, err = m.Get(context.Background(), "tenant.t1.asset.missing.state")
	assert.ErrorIs(t, err, jetstream.ErrKeyNotFound)
}

func TestKVMirrorPutFailure(t *testing.T) {
	boom := errors.New("no responders")
	m := NewKVMirror(&fakeKV{putErr: boom}, 0)

	err := m.Set(context.Background(), "k", map[string]string{"a": "b"})
	require.ErrorIs(t, err, boom)
}

func TestMemoryMirrorCopies(t *testing.T) {
	m := NewMemory()
	fields := map[string]string{"damage": "0.2"}
	require.NoError(t, m.Set(context.Background(), "k", fields))
	fields["damage"] = "mutated"

	got, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "0.2", got["damage"])

	_, ok = m.Get("missing")
	assert.False(t, ok)
}
