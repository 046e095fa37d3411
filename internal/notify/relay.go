package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/circulate/circulation-server/internal/clock"
	"github.com/circulate/circulation-server/internal/outbox"
)

// RelayConfig tunes the relay worker.
type RelayConfig struct {
	Interval      time.Duration
	MaxAttempts   int
	BatchSize     int
	RatePerSecond float64
	Burst         int
}

// RelayResult counts what one drain pass did.
type RelayResult struct {
	Delivered    int
	Retried      int
	DeadLettered int
}

// Relay drains the outbox into the configured sinks.
type Relay struct {
	queue   Queue
	sinks   []Sink
	limiter *rate.Limiter
	clock   clock.Clock
	cfg     RelayConfig
	logger  *slog.Logger

	kick   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a relay. A zero RatePerSecond disables rate limiting.
func NewRelay(queue Queue, sinks []Sink, clk clock.Clock, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	return &Relay{
		queue:   queue,
		sinks:   sinks,
		limiter: rate.NewLimiter(limit, burst),
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// Kick asks the worker to drain now instead of waiting for the next tick.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
		// Already notified
	}
}

// Start launches the background worker. Entries left over from a previous
// run are drained immediately.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	ticker := r.clock.NewTicker(r.cfg.Interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()

		r.drain(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.kick:
				r.drain(ctx)
			case <-ticker.C():
				r.drain(ctx)
			}
		}
	}()

	r.logger.Info("notification relay started",
		slog.Int("sinks", len(r.sinks)),
		slog.Duration("interval", r.cfg.Interval))
}

// Stop halts the worker and waits for an in-flight pass to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Info("notification relay stopped")
}

func (r *Relay) drain(ctx context.Context) {
	// Keep going while full batches come back so a burst does not wait
	// for the next tick.
	for {
		res, n, err := r.drainBatch(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Error("notification relay pass failed", slog.String("error", err.Error()))
			}
			return
		}
		if res.Retried > 0 || res.DeadLettered > 0 {
			r.logger.Info("notification relay pass",
				slog.Int("delivered", res.Delivered),
				slog.Int("retried", res.Retried),
				slog.Int("dead_lettered", res.DeadLettered))
		}
		if n < r.cfg.BatchSize || res.Retried > 0 {
			return
		}
	}
}

// DrainOnce delivers one batch of pending entries, oldest first.
func (r *Relay) DrainOnce(ctx context.Context) (RelayResult, error) {
	res, _, err := r.drainBatch(ctx)
	return res, err
}

func (r *Relay) drainBatch(ctx context.Context) (RelayResult, int, error) {
	var res RelayResult

	entries, err := r.queue.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return res, 0, err
	}

	for _, entry := range entries {
		failures, err := r.deliver(ctx, entry)
		if err != nil {
			return res, len(entries), err
		}
		deliveryErr := errors.Join(failures...)

		log := r.logger.With(
			slog.String("entry_id", entry.ID),
			slog.String("kind", string(entry.Notification.Kind)),
			slog.String("loan_id", entry.Notification.LoanID))

		switch {
		case deliveryErr == nil:
			if err := r.queue.Ack(ctx, entry.ID); err != nil && !errors.Is(err, outbox.ErrNotFound) {
				return res, len(entries), err
			}
			res.Delivered++

		case entry.Attempts+1 >= r.cfg.MaxAttempts:
			entry.Attempts++
			if err := r.queue.DeadLetter(ctx, entry, deliveryErr); err != nil {
				return res, len(entries), err
			}
			log.Error("notification dead-lettered",
				slog.Int("attempts", entry.Attempts),
				slog.String("error", deliveryErr.Error()))
			res.DeadLettered++

		default:
			if err := r.queue.Retry(ctx, entry, deliveryErr); err != nil {
				return res, len(entries), err
			}
			log.Warn("notification delivery failed, will retry",
				slog.Int("attempts", entry.Attempts),
				slog.String("error", deliveryErr.Error()))
			res.Retried++
		}
	}

	return res, len(entries), nil
}

// deliver pushes entry to every sink that has not accepted it yet. err is
// only set when the pass itself must stop.
func (r *Relay) deliver(ctx context.Context, entry *outbox.Entry) (failures []error, err error) {
	for _, sink := range r.sinks {
		if entry.DeliveredVia(sink.Name()) {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := sink.Deliver(ctx, entry.Notification); err != nil {
			failures = append(failures, err)
			continue
		}
		entry.MarkDelivered(sink.Name())
	}
	return failures, nil
}
