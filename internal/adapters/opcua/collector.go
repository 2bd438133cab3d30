package opcua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisHealth/internal/domain"
	"github.com/ghalamif/AegisHealth/internal/ports"
)

const closeTimeout = 5 * time.Second

// handleTable resolves a monitored item's client handle to the node it feeds.
type handleTable map[uint32]NodeConfig

func newHandleTable(nodes []NodeConfig) handleTable {
	t := make(handleTable, len(nodes))
	for i, n := range nodes {
		t[uint32(i+1)] = n
	}
	return t
}

// session is one live client plus its subscription.
type session struct {
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
}

func (s *session) close(ctx context.Context) error {
	s.cancel()
	var errs []error
	if s.sub != nil {
		errs = append(errs, ignoreCanceled(s.sub.Cancel(ctx)))
	}
	if s.client != nil {
		errs = append(errs, ignoreCanceled(s.client.Close(ctx)))
	}
	return errors.Join(errs...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Collector subscribes to OPC UA nodes and assembles their values into
// per-asset telemetry readings.
type Collector struct {
	cfg       Config
	logger    *slog.Logger
	assembler *Assembler
	handles   handleTable

	mu   sync.Mutex
	live *session
	wg   sync.WaitGroup
}

// NewCollector validates cfg. seed may be nil, in which case every asset
// starts numbering at 1.
func NewCollector(cfg Config, seed SequenceSeed, logger *slog.Logger) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:       cfg,
		logger:    logger.With("component", "opcua", "endpoint", cfg.Endpoint),
		assembler: NewAssembler(seed),
		handles:   newHandleTable(cfg.Nodes),
	}, nil
}

func (c *Collector) Start(out chan<- *domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live != nil {
		return errors.New("opcua collector already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cancel: cancel}

	notifications := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	if err := c.open(ctx, s, notifications); err != nil {
		closeCtx, done := context.WithTimeout(context.Background(), closeTimeout)
		_ = s.close(closeCtx)
		done()
		return err
	}

	c.live = s
	c.wg.Add(1)
	go c.consume(ctx, notifications, out)
	c.logger.Info("opcua: subscribed", "nodes", len(c.handles))
	return nil
}

// open dials, subscribes and registers every node. s collects whatever was
// created so the caller can unwind on failure.
func (c *Collector) open(ctx context.Context, s *session, notifications chan *opcua.PublishNotificationData) error {
	client, err := opcua.NewClient(c.cfg.Endpoint, c.cfg.clientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}
	s.client = client

	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: c.cfg.PublishInterval}, notifications)
	if err != nil {
		return fmt.Errorf("opcua subscribe: %w", err)
	}
	s.sub = sub

	for handle, node := range c.handles {
		if err := c.monitor(ctx, sub, handle, node); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription, handle uint32, node NodeConfig) error {
	id, err := ua.ParseNodeID(node.NodeID)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
	if c.cfg.SamplingInterval > 0 {
		req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval.Milliseconds())
	}

	res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	switch {
	case err != nil:
		return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
	case len(res.Results) == 0:
		return fmt.Errorf("monitor node %q: empty result", node.NodeID)
	case res.Results[0].StatusCode != ua.StatusOK:
		return fmt.Errorf("monitor node %q: %s", node.NodeID, res.Results[0].StatusCode)
	}
	return nil
}

// Stop cancels the subscription and closes the session. Safe to call when
// not started.
func (c *Collector) Stop() error {
	c.mu.Lock()
	s := c.live
	c.live = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := s.close(ctx)
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, notifications <-chan *opcua.PublishNotificationData, out chan<- *domain.Envelope) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notifications:
			switch {
			case n == nil:
			case n.Error != nil:
				c.logger.Warn("opcua: notification error", "err", n.Error)
			default:
				c.processNotification(ctx, n.Value, out)
			}
		}
	}
}

func (c *Collector) processNotification(ctx context.Context, val any, out chan<- *domain.Envelope) {
	change, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}
	for _, item := range change.MonitoredItems {
		env, ok := c.route(item)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case out <- env:
		}
	}
}

// route feeds one item into the assembler and returns a reading once the
// asset has everything it needs.
func (c *Collector) route(item *ua.MonitoredItemNotification) (*domain.Envelope, bool) {
	node, ok := c.handles[item.ClientHandle]
	if !ok || item.Value == nil {
		return nil, false
	}
	v, ok := variantToFloat(item.Value.Value)
	if !ok {
		c.logger.Warn("opcua: skipping node with unsupported type",
			"node", node.String(), "type", fmt.Sprintf("%T", item.Value.Value))
		return nil, false
	}
	return c.assembler.Update(node, v, observedAt(item.Value))
}

func observedAt(dv *ua.DataValue) time.Time {
	for _, ts := range []time.Time{dv.ServerTimestamp, dv.SourceTimestamp} {
		if !ts.IsZero() {
			return ts
		}
	}
	return time.Now()
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch x := v.Value().(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int8:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint8:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

var _ ports.Collector = (*Collector)(nil)
