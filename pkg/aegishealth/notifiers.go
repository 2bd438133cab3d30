package aegishealth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrChannelNotifierClosed is returned when a channel notifier is written to
// after being closed.
var ErrChannelNotifierClosed = errors.New("aegishealth: channel notifier closed")

// Event is one published domain event. Payload is the JSON encoding of
// DamageUpdated or RULRecalculated, depending on Topic.
type Event struct {
	Topic   string
	Key     string
	Payload []byte
}

// EventHandler receives events from a callback notifier.
type EventHandler func(ctx context.Context, ev Event) error

// NewCallbackNotifier adapts fn into an EventNotifier so callers can react to
// commits without defining structs.
func NewCallbackNotifier(fn EventHandler) EventNotifier {
	return &callbackNotifier{fn: fn}
}

// NewChannelNotifier exposes events via a channel; it returns the notifier,
// the read-only channel, and a close function the caller should invoke during
// shutdown. Publish blocks while the buffer is full, bounded by the
// propagation timeout.
func NewChannelNotifier(buffer int) (EventNotifier, <-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	n := &channelNotifier{
		ch:     ch,
		closed: make(chan struct{}),
	}
	return n, ch, n.close
}

type callbackNotifier struct {
	fn EventHandler
}

func (n *callbackNotifier) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if n.fn == nil {
		return fmt.Errorf("callback notifier: nil handler for %s", topic)
	}
	return n.fn(ctx, Event{Topic: topic, Key: key, Payload: clonePayload(payload)})
}

type channelNotifier struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
	// mu keeps close from racing a send on ch.
	mu sync.RWMutex
}

func (n *channelNotifier) Publish(ctx context.Context, topic, key string, payload []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	select {
	case <-n.closed:
		return ErrChannelNotifierClosed
	default:
	}

	ev := Event{Topic: topic, Key: key, Payload: clonePayload(payload)}
	select {
	case <-n.closed:
		return ErrChannelNotifierClosed
	case <-ctx.Done():
		return ctx.Err()
	case n.ch <- ev:
		return nil
	}
}

func (n *channelNotifier) close() {
	n.once.Do(func() {
		close(n.closed)
		n.mu.Lock()
		close(n.ch)
		n.mu.Unlock()
	})
}

func clonePayload(p []byte) []byte {
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}
