package relay

import (
	"context"
	"errors"
	"time"

	"github.com/olyamironova/matching-core/internal/adapter/kafka"
	"github.com/olyamironova/matching-core/internal/adapter/outbox"
	"github.com/olyamironova/matching-core/internal/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Source interface {
	Pending(limit int) ([]outbox.Record, error)
	Ack(seqs ...uint64) error
}

type Sender interface {
	Send(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	Interval time.Duration
	Batch    int

	// Breaker trips after this many consecutive send failures and probes again
	// after OpenTimeout.
	TripAfter   uint32
	OpenTimeout time.Duration
}

// Relay drains the outbox into the broker on a ticker. Records are acked only
// after a successful send, so delivery is at least once.
type Relay struct {
	src Source
	dst Sender
	cfg Config
	cb  *gobreaker.CircuitBreaker[struct{}]
	met *metrics.Metrics
	log *zap.Logger
}

func New(src Source, dst Sender, cfg Config, met *metrics.Metrics, log *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 256
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 3 * time.Second
	}
	if met == nil {
		met = metrics.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{src: src, dst: dst, cfg: cfg, met: met, log: log}
	r.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "outbox-relay",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return r
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("relay started", zap.Duration("interval", r.cfg.Interval))
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopped")
			return nil
		case <-ticker.C:
			// drain everything available before waiting again
			for {
				n, err := r.Once(ctx)
				if err != nil || n < r.cfg.Batch {
					break
				}
			}
		}
	}
}

// Once relays one batch and returns how many records were delivered.
func (r *Relay) Once(ctx context.Context) (int, error) {
	recs, err := r.src.Pending(r.cfg.Batch)
	if err != nil {
		r.met.RelayErrors.WithLabelValues("read").Inc()
		r.log.Error("outbox read failed", zap.Error(err))
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, len(recs))
	seqs := make([]uint64, len(recs))
	for i, rec := range recs {
		msgs[i] = kafka.Message{Key: rec.Key, Value: rec.Payload}
		seqs[i] = rec.Seq
	}

	_, err = r.cb.Execute(func() (struct{}, error) {
		return struct{}{}, r.dst.Send(ctx, msgs...)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.met.RelayErrors.WithLabelValues("breaker_open").Inc()
		return 0, err
	}
	if err != nil {
		r.met.RelayErrors.WithLabelValues("send").Inc()
		r.log.Warn("relay send failed", zap.Int("records", len(recs)), zap.Error(err))
		return 0, err
	}

	if err := r.src.Ack(seqs...); err != nil {
		r.met.RelayErrors.WithLabelValues("ack").Inc()
		r.log.Error("outbox ack failed", zap.Error(err))
		return 0, err
	}
	r.met.Relayed.Add(float64(len(recs)))
	return len(recs), nil
}

func (r *Relay) State() gobreaker.State { return r.cb.State() }
