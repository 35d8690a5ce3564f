package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

var _ order.Notifier = (*Dispatcher)(nil)

// Dispatcher publishes order events in the background with bounded
// concurrency. When every slot is busy the event is dropped and logged;
// checkout latency never depends on the broker.
type Dispatcher struct {
	pub     Publisher
	lg      *zap.Logger
	timeout time.Duration
	g       errgroup.Group
}

// NewDispatcher creates a Dispatcher running at most limit publishes at
// once, each bounded by timeout.
func NewDispatcher(pub Publisher, lg *zap.Logger, limit int, timeout time.Duration) *Dispatcher {
	if limit <= 0 {
		limit = 1
	}
	d := &Dispatcher{pub: pub, lg: lg, timeout: timeout}
	d.g.SetLimit(limit)
	return d
}

// OrderCreated enqueues an order.created event.
func (d *Dispatcher) OrderCreated(ctx context.Context, res *order.CreateResult) {
	msg := OrderCreated(res)
	lg := zctx.From(ctx)
	// Publishing outlives the request.
	base := context.WithoutCancel(ctx)

	if !d.g.TryGo(func() error {
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		if err := d.pub.Publish(ctx, msg); err != nil {
			lg.Error("Publish event",
				zap.String("type", msg.Type),
				zap.String("key", msg.Key),
				zap.Error(err),
			)
		}
		return nil
	}) {
		lg.Warn("Event dropped, publisher saturated",
			zap.String("type", msg.Type),
			zap.String("key", msg.Key),
		)
	}
}

// Close waits for in-flight publishes and closes the publisher.
func (d *Dispatcher) Close() error {
	_ = d.g.Wait()
	if err := d.pub.Close(); err != nil {
		return errors.Wrap(err, "close publisher")
	}
	d.lg.Info("Event dispatcher stopped")
	return nil
}
