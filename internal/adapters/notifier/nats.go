package notifier

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/AegisHealth/internal/ports"
)

// HeaderAssetKey carries the asset id of every published event; the tenant
// is in the payload.
const HeaderAssetKey = "Aegis-Asset-Key"

// MsgPublisher is the subset of *nats.Conn the notifier needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSNotifier publishes domain events on "<prefix>.<topic>".
type NATSNotifier struct {
	conn   MsgPublisher
	prefix string
}

func NewNATSNotifier(conn MsgPublisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "aegis.health"
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

// Connect dials url with reconnect options suited to a long running service.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

func (n *NATSNotifier) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(n.prefix + "." + topic)
	msg.Header.Set(HeaderAssetKey, key)
	msg.Data = payload
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return nil
}

var _ ports.EventNotifier = (*NATSNotifier)(nil)
