package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/dedup"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

func newTestWorker(t *testing.T) (*Worker, domain.EventBus) {
	t.Helper()

	log, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/kestrel-worker.db",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	cacheImpl := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(16)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.DefaultEngineConfig()
	eng, err := engine.New(cfg, engine.Deps{
		Rules:    rules.NewEngine(),
		Behavior: behavior.NewAnalyzer(),
		Velocity: velocity.NewAnalyzer(),
		History:  history.NewStore(log, cacheImpl, cfg.HistoryTTL, cfg.HistoryLimit),
		Dedup:    dedup.NewDetector(cacheImpl, cfg.DedupWindow, cfg.DedupBucket),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return NewWorker(eventBus, eng), eventBus
}

func waitFor(t *testing.T, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestWorkerProcessesTransactions(t *testing.T) {
	w, eventBus := newTestWorker(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	tx := &domain.TransactionContext{
		ID:                   "tx-async-1",
		SubjectID:            "subject-1",
		AccountID:            "acct-1",
		DestinationAccountID: "dest-1",
		Amount:               120,
		Currency:             "USD",
		Kind:                 domain.KindPayment,
		Timestamp:            time.Now().UTC(),
	}
	payload, _ := json.Marshal(tx)
	if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return w.GetStats().Processed == 1
	})
	if w.GetStats().Failed != 0 {
		t.Errorf("expected no failures, got %d", w.GetStats().Failed)
	}
}

func TestWorkerDropsMalformedPayload(t *testing.T) {
	w, eventBus := newTestWorker(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("{not json")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return w.GetStats().Failed == 1
	})
	if w.GetStats().Processed != 0 {
		t.Errorf("malformed payload must not count as processed")
	}
}

func TestWorkerStopUnsubscribes(t *testing.T) {
	w, eventBus := newTestWorker(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	payload, _ := json.Marshal(&domain.TransactionContext{ID: "tx-late"})
	eventBus.Publish(context.Background(), domain.TopicTransactionIngested, payload)

	time.Sleep(100 * time.Millisecond)
	if got := w.GetStats(); got.Processed != 0 || got.Failed != 0 {
		t.Errorf("stopped worker must not consume, got %+v", got)
	}
}
