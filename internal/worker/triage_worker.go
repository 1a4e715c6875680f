package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

const readErrorBackoff = time.Second

// Runner triages one ticket.
type Runner interface {
	Run(ctx context.Context, ticketID string) error
}

// EventSource is the consumer side of the event stream.
type EventSource interface {
	Read(ctx context.Context) ([]events.Delivery, error)
	Ack(ctx context.Context, ids ...string) error
}

// TriageWorkerConfig tunes delivery handling.
type TriageWorkerConfig struct {
	Concurrency   int
	MaxDeliveries int
}

// TriageWorker feeds ticket-created events to the triage orchestrator. It
// serves both dispatch modes: HandleEvent for the in-process dispatcher and
// Start for the Redis stream consumer.
type TriageWorker struct {
	runner        Runner
	source        EventSource
	concurrency   int
	maxDeliveries int64
	logger        *zap.Logger
	metrics       *observability.Metrics
}

// NewTriageWorker builds a worker. source may be nil in inline mode.
func NewTriageWorker(runner Runner, source EventSource, cfg TriageWorkerConfig, logger *zap.Logger, metrics *observability.Metrics) *TriageWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriageWorker{
		runner:        runner,
		source:        source,
		concurrency:   cfg.Concurrency,
		maxDeliveries: int64(cfg.MaxDeliveries),
		logger:        logger,
		metrics:       metrics,
	}
}

// Register subscribes the worker to ticket-created events on an in-process
// dispatcher.
func (w *TriageWorker) Register(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketCreated, w.HandleEvent)
}

// HandleEvent triages the event's ticket synchronously.
func (w *TriageWorker) HandleEvent(ctx context.Context, event events.Event) error {
	return w.runner.Run(ctx, event.TicketID)
}

// Start consumes the stream until ctx is canceled. In-flight triages finish
// before Start returns.
func (w *TriageWorker) Start(ctx context.Context) error {
	if w.source == nil {
		return errors.New("triage worker has no event source")
	}
	w.logger.Info("triage worker started", zap.Int("concurrency", w.concurrency))
	defer w.logger.Info("triage worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		deliveries, err := w.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("failed to read triage events", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		w.ProcessBatch(ctx, deliveries)
	}
}

// ProcessBatch handles deliveries concurrently, bounded by the configured
// concurrency, and waits for all of them.
func (w *TriageWorker) ProcessBatch(ctx context.Context, deliveries []events.Delivery) {
	if len(deliveries) == 0 {
		return
	}
	// shutdown must not abort a triage midway
	runCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, d := range deliveries {
		g.Go(func() error {
			w.handle(runCtx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *TriageWorker) handle(ctx context.Context, d events.Delivery) {
	log := w.logger.With(zap.String("message_id", d.MessageID), zap.Int64("attempt", d.Attempt))

	if d.Err != nil {
		log.Error("dropping undecodable triage event", zap.Error(d.Err))
		w.metrics.RecordDeadLetter()
		w.ack(ctx, log, d.MessageID)
		return
	}
	if d.Event.Type != events.EventTicketCreated {
		w.ack(ctx, log, d.MessageID)
		return
	}

	log = log.With(zap.String("ticket_id", d.Event.TicketID))
	err := w.runner.Run(ctx, d.Event.TicketID)
	switch {
	case err == nil:
		w.ack(ctx, log, d.MessageID)
	case d.Attempt >= w.maxDeliveries:
		log.Error("triage failed permanently, dead-lettering event", zap.Error(err))
		w.metrics.RecordDeadLetter()
		w.ack(ctx, log, d.MessageID)
	default:
		log.Warn("triage failed, event left pending for redelivery", zap.Error(err))
	}
}

func (w *TriageWorker) ack(ctx context.Context, log *zap.Logger, id string) {
	if err := w.source.Ack(ctx, id); err != nil {
		log.Error("failed to acknowledge triage event", zap.Error(err))
	}
}
