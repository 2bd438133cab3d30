package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisHealth/internal/adapters/queue"
	filewal "github.com/ghalamif/AegisHealth/internal/adapters/wal"
	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/logging"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

func newQueueWith(t *testing.T, envs ...*domain.Envelope) *queue.MemQueue {
	t.Helper()
	q := queue.NewMemQueue(len(envs) + 1)
	for i, e := range envs {
		require.True(t, q.Enqueue(ports.WALEntryID(i+1), e))
	}
	return q
}

func seededWAL(t *testing.T, n int) *filewal.FileWAL {
	t.Helper()
	w, err := filewal.NewFileWAL(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	for i := 1; i <= n; i++ {
		asset, seq := "a", uint64(i+1)/2
		if i%2 == 0 {
			asset, seq = "b", uint64(i/2)
		}
		_, err := w.Append(env(asset, seq))
		require.NoError(t, err)
	}
	return w
}

func TestReplayWALIngestsBacklogInBatches(t *testing.T) {
	w := seededWAL(t, 10)
	require.NoError(t, w.Commit(2))
	ing := &fakeIngester{}

	n, err := ReplayWAL(context.Background(), w, 9, ing, ports.Policy{MaxBatchSize: 3}, &mockObs{})
	require.NoError(t, err)

	assert.Equal(t, 7, n)
	assert.Equal(t, ports.WALEntryID(10), w.Stats().OldestUncommitted)
	assert.Equal(t, []uint64{2, 3, 4, 5}, ing.seqsFor("a"))
	assert.Equal(t, []uint64{2, 3, 4}, ing.seqsFor("b"))
}

func TestReplayWALWithNothingPending(t *testing.T) {
	w := seededWAL(t, 4)
	require.NoError(t, w.Commit(4))
	ing := &fakeIngester{}

	n, err := ReplayWAL(context.Background(), w, 4, ing, ports.Policy{}, &mockObs{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, ing.seqsFor("a"))
}

func TestReplayWALLogsThroughContextLogger(t *testing.T) {
	w := seededWAL(t, 2)
	var buf bytes.Buffer
	ctx := logging.NewContext(context.Background(), logging.NewWithWriter(logging.Config{Level: "debug"}, &buf))

	_, err := ReplayWAL(ctx, w, 2, &fakeIngester{}, ports.Policy{}, &mockObs{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "pipeline: replayed wal batch")
}

func TestRunIngestPipelineLogsSettledBatches(t *testing.T) {
	w := seededWAL(t, 0)
	q := newQueueWith(t, env("a", 1), env("a", 2))
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx, cancel := context.WithCancel(logging.NewContext(context.Background(), logger))
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- RunIngestPipeline(ctx, w, q, &fakeIngester{}, ports.Policy{MaxBatchSize: 10, IdleSleep: time.Millisecond}, &mockObs{})
	}()
	assert.Eventually(t, func() bool {
		return w.Stats().OldestUncommitted == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, buf.String(), "pipeline: batch settled")
}
