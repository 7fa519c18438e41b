package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Store is the durable side of the outbox.
type Store interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []string) error
}

// Publisher delivers events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Observer receives relay progress for metrics.
type Observer interface {
	Relayed(n int)
	RelayFailed()
}

// RelayConfig controls polling.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// Lease is how long claimed events stay hidden from other relays.
	Lease time.Duration
}

// Relay moves committed events from the Store to the Publisher. Delivery is
// at least once: a batch whose MarkSent fails is published again after its
// lease lapses.
type Relay struct {
	store    Store
	pub      Publisher
	observer Observer
	cfg      RelayConfig
}

// NewRelay creates a Relay. Zero config fields get defaults.
func NewRelay(store Store, pub Publisher, observer Observer, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Relay{store: store, pub: pub, observer: observer, cfg: cfg}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx).Named("outbox")
	lg.Info("Relay started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Int("batch_size", r.cfg.BatchSize),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Info("Relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.Flush(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			r.observer.RelayFailed()
			lg.Warn("Relay flush failed", zap.Error(err))
			timer.Reset(r.cfg.Interval)
		case n == r.cfg.BatchSize:
			timer.Reset(0)
		default:
			timer.Reset(r.cfg.Interval)
		}
	}
}

// Flush relays one batch and returns how many events were delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim")
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := r.pub.Publish(ctx, events); err != nil {
		return 0, errors.Wrapf(err, "publish %d events", len(events))
	}

	ids := lo.Map(events, func(e Event, _ int) string { return e.ID })
	if err := r.store.MarkSent(ctx, ids); err != nil {
		return 0, errors.Wrap(err, "mark sent")
	}

	r.observer.Relayed(len(events))
	return len(events), nil
}

type nopObserver struct{}

func (nopObserver) Relayed(int)  {}
func (nopObserver) RelayFailed() {}
