// Package worker provides async evaluation off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker consumes ingested transactions from the EventBus and runs the
// orchestrator on each. The evaluation result propagates through the
// analyzed/fraud-detected topics the engine already publishes; the
// worker itself produces no reply.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	sub       domain.Subscription
	processed atomic.Int64
	failed    atomic.Int64

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates an async evaluation worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.sub = sub

	slog.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// Stop unsubscribes and cancels in-flight evaluations.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancel()
	if w.sub != nil {
		if err := w.sub.Unsubscribe(); err != nil {
			return err
		}
		w.sub = nil
	}

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats reports processing counters.
type Stats struct {
	Processed int64
	Failed    int64
}

// GetStats returns the worker's counters.
func (w *Worker) GetStats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
}

// handleMessage decodes one ingested transaction and evaluates it. A
// malformed payload is counted and dropped; redelivery would fail the
// same way forever.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.TransactionContext
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.failed.Add(1)
		slog.Error("failed to decode transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return nil
	}

	score := w.engine.Evaluate(ctx, &tx)
	w.processed.Add(1)

	slog.Debug("transaction evaluated",
		"transaction_id", tx.ID,
		"decision", score.Decision,
		"overall_risk", score.OverallRisk,
	)
	return nil
}
