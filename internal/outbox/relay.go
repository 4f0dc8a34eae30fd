package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher is the slice of the broker publisher the relay needs.
type Publisher interface {
	PublishRaw(ctx context.Context, body []byte, detailType, country, messageID string) error
}

// Drainer is the store operation the relay runs per sweep.
type Drainer interface {
	Drain(ctx context.Context, limit int, send func(Event) error) (int, error)
}

// Relay sweeps unsent event rows on an interval and pushes them to the
// broker. It backs the inline publish in the creation use case: rows the API
// delivered itself are already marked sent and never picked up here.
type Relay struct {
	store     Drainer
	publisher Publisher
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

func NewRelay(store Drainer, publisher Publisher, interval time.Duration, batchSize int, log *zap.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopping")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sent, err := r.Sweep(sweepCtx)
	if err != nil {
		r.log.Error("outbox sweep failed", zap.Error(err))
		return
	}
	if sent > 0 {
		r.log.Info("outbox sweep complete", zap.Int("sent", sent))
	}
}

// Sweep publishes up to one batch of unsent rows. A publish failure stops
// the batch; the remaining rows stay unsent for the next sweep.
func (r *Relay) Sweep(ctx context.Context) (int, error) {
	return r.store.Drain(ctx, r.batchSize, func(ev Event) error {
		return r.publisher.PublishRaw(ctx, ev.Payload, ev.EventType, ev.Country, ev.ID.String())
	})
}
