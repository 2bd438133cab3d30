package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ghalamif/AegisHealth/internal/ports"
)

// KVMirror mirrors asset snapshots into a JetStream key-value bucket. Each
// key holds the JSON encoding of the snapshot's cache fields; last writer wins.
type KVMirror struct {
	bucket  jetstream.KeyValue
	timeout time.Duration
}

// NewKVMirror wraps an existing bucket. A zero timeout leaves the caller's
// context untouched.
func NewKVMirror(bucket jetstream.KeyValue, timeout time.Duration) *KVMirror {
	return &KVMirror{bucket: bucket, timeout: timeout}
}

// OpenKVMirror creates the bucket when missing and returns a mirror over it.
func OpenKVMirror(ctx context.Context, js jetstream.JetStream, bucket string, ttl, timeout time.Duration) (*KVMirror, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "asset reliability snapshots",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return NewKVMirror(kv, timeout), nil
}

func (m *KVMirror) Set(ctx context.Context, key string, fields map[string]string) error {
	val, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if _, err := m.bucket.Put(ctx, key, val); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Get reads back a mirrored snapshot.
func (m *KVMirror) Get(ctx context.Context, key string) (map[string]string, error) {
	entry, err := m.bucket.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	var out map[string]string
	if err := json.Unmarshal(entry.Value(), &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}

var _ ports.CacheMirror = (*KVMirror)(nil)
