// Package integration exercises the full single-node stack end to end:
// SQLite repository, in-process cache, channel bus, stub scorer, and
// the orchestrator on top.
package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/dedup"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

var baseTime = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

var (
	newYork = &domain.Geolocation{Country: "US", Region: "NY", Latitude: 40.7128, Longitude: -74.0060}
	tokyo   = &domain.Geolocation{Country: "JP", Region: "Tokyo", Latitude: 35.6762, Longitude: 139.6503}
)

type stack struct {
	engine *engine.Engine
	log    domain.TransactionLog
}

func newStack(t *testing.T) *stack {
	t.Helper()

	log, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: t.TempDir() + "/kestrel-integration.db",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	cacheImpl := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(64)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.DefaultEngineConfig()
	eng, err := engine.New(cfg, engine.Deps{
		Rules:    rules.NewEngine(),
		Behavior: behavior.NewAnalyzer(),
		Velocity: velocity.NewAnalyzer(),
		History:  history.NewStore(log, cacheImpl, cfg.HistoryTTL, cfg.HistoryLimit),
		Dedup:    dedup.NewDetector(cacheImpl, cfg.DedupWindow, cfg.DedupBucket),
		Scorer:   features.NewStubScorer(),
		Bus:      eventBus,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return &stack{engine: eng, log: log}
}

type seedTx struct {
	id     string
	amount float64
	kind   string
	age    time.Duration
	loc    *domain.Geolocation
	device string
	status string
}

func (s *stack) seed(t *testing.T, subjectID string, seeds []seedTx) {
	t.Helper()
	for _, sd := range seeds {
		status := sd.status
		if status == "" {
			status = domain.StatusCompleted
		}
		decision := domain.DecisionApprove
		if status == domain.StatusFailed {
			decision = domain.DecisionBlock
		}
		tx := &domain.TransactionContext{
			ID:                   sd.id,
			SubjectID:            subjectID,
			AccountID:            "acct-" + subjectID,
			DestinationAccountID: "dest-1",
			Amount:               sd.amount,
			Currency:             "USD",
			Kind:                 sd.kind,
			Timestamp:            baseTime.Add(-sd.age),
			DeviceFingerprint:    sd.device,
			Location:             sd.loc,
		}
		if err := s.log.Append(context.Background(), tx, decision, status); err != nil {
			t.Fatalf("failed to seed transaction %s: %v", sd.id, err)
		}
	}
}

// steadySeeds is a month of ordinary activity: payments near 100 USD
// from one device in one country, spread so no single day dominates.
func steadySeeds() []seedTx {
	seeds := make([]seedTx, 0, 10)
	for i := 0; i < 10; i++ {
		seeds = append(seeds, seedTx{
			id:     fmt.Sprintf("seed-%02d", i),
			amount: 90 + float64(i*2),
			kind:   domain.KindPayment,
			age:    time.Duration(i*3+2)*24*time.Hour + 3*time.Hour,
			loc:    newYork,
			device: "device-1",
		})
	}
	return seeds
}

func TestCleanSmallTransferApproves(t *testing.T) {
	s := newStack(t)
	s.seed(t, "subject-clean", steadySeeds())

	score := s.engine.Evaluate(context.Background(), &domain.TransactionContext{
		ID:                   "tx-clean",
		SubjectID:            "subject-clean",
		AccountID:            "acct-subject-clean",
		DestinationAccountID: "dest-1",
		Amount:               100,
		Currency:             "USD",
		Kind:                 domain.KindPayment,
		Timestamp:            baseTime,
		DeviceFingerprint:    "device-1",
		Location:             newYork,
	})

	if score.Decision != domain.DecisionApprove {
		t.Fatalf("expected approve, got %s (risk %d, reasons %v)", score.Decision, score.OverallRisk, score.Reasons)
	}
	if score.OverallRisk >= 40 {
		t.Errorf("expected risk below 40, got %d", score.OverallRisk)
	}
}

func TestImpossibleTravelBlocks(t *testing.T) {
	s := newStack(t)
	seeds := steadySeeds()
	// The subject was in New York ten minutes ago.
	seeds = append(seeds, seedTx{
		id: "seed-ny", amount: 100, kind: domain.KindPayment,
		age: 10 * time.Minute, loc: newYork, device: "device-1",
	})
	s.seed(t, "subject-travel", seeds)

	score := s.engine.Evaluate(context.Background(), &domain.TransactionContext{
		ID:                   "tx-tokyo",
		SubjectID:            "subject-travel",
		AccountID:            "acct-subject-travel",
		DestinationAccountID: "dest-1",
		Amount:               100,
		Currency:             "USD",
		Kind:                 domain.KindPayment,
		Timestamp:            baseTime,
		DeviceFingerprint:    "device-1",
		Location:             tokyo,
	})

	if score.Decision != domain.DecisionBlock {
		t.Fatalf("expected block, got %s (risk %d, reasons %v)", score.Decision, score.OverallRisk, score.Reasons)
	}
	if score.OverallRisk < 85 {
		t.Errorf("impossible travel must push risk into the block band, got %d", score.OverallRisk)
	}
	if score.RuleScore < 80 {
		t.Errorf("expected the geographic rule near its maximum, got rule score %.0f", score.RuleScore)
	}
}

func TestNewDeviceNightTransfer(t *testing.T) {
	s := newStack(t)
	seeds := steadySeeds()
	// Two failed attempts shortly before: the takeover shape.
	seeds = append(seeds,
		seedTx{id: "seed-f1", amount: 100, kind: domain.KindPayment, age: 90 * time.Minute, loc: newYork, device: "device-1", status: domain.StatusFailed},
		seedTx{id: "seed-f2", amount: 100, kind: domain.KindPayment, age: 80 * time.Minute, loc: newYork, device: "device-1", status: domain.StatusFailed},
	)
	s.seed(t, "subject-night", seeds)

	night := time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC)
	score := s.engine.Evaluate(context.Background(), &domain.TransactionContext{
		ID:                   "tx-night",
		SubjectID:            "subject-night",
		AccountID:            "acct-subject-night",
		DestinationAccountID: "dest-unknown",
		Amount:               800,
		Currency:             "USD",
		Kind:                 domain.KindTransfer,
		Timestamp:            night,
		DeviceFingerprint:    "device-stolen",
		Location:             newYork,
	})

	if score.Decision != domain.DecisionReview && score.Decision != domain.DecisionChallenge {
		t.Fatalf("expected review or challenge, got %s (risk %d, reasons %v)", score.Decision, score.OverallRisk, score.Reasons)
	}
	if score.BehaviorScore < 60 {
		t.Errorf("expected a high behavioral score, got %.0f", score.BehaviorScore)
	}
}

func TestMoneyMulePattern(t *testing.T) {
	s := newStack(t)
	s.seed(t, "subject-mule", []seedTx{
		{id: "seed-d1", amount: 5000, kind: domain.KindDeposit, age: 10 * time.Hour, device: "device-1", loc: newYork},
		{id: "seed-d2", amount: 5000, kind: domain.KindDeposit, age: 8 * time.Hour, device: "device-1", loc: newYork},
	})

	score := s.engine.Evaluate(context.Background(), &domain.TransactionContext{
		ID:                   "tx-cashout",
		SubjectID:            "subject-mule",
		AccountID:            "acct-subject-mule",
		DestinationAccountID: "dest-out",
		Amount:               9500,
		Currency:             "USD",
		Kind:                 domain.KindWithdrawal,
		Timestamp:            baseTime,
		DeviceFingerprint:    "device-1",
		Location:             newYork,
	})

	if score.Decision != domain.DecisionReview && score.Decision != domain.DecisionBlock {
		t.Fatalf("expected at least review, got %s (risk %d, reasons %v)", score.Decision, score.OverallRisk, score.Reasons)
	}
	if score.OverallRisk < 60 {
		t.Errorf("mule pattern must reach the review band, got %d", score.OverallRisk)
	}
}

func TestDuplicateSubmissionIdempotent(t *testing.T) {
	s := newStack(t)
	s.seed(t, "subject-dup", steadySeeds())

	tx := func() *domain.TransactionContext {
		return &domain.TransactionContext{
			ID:                   "tx-dup-a",
			SubjectID:            "subject-dup",
			AccountID:            "acct-subject-dup",
			DestinationAccountID: "dest-1",
			Amount:               150,
			Currency:             "USD",
			Kind:                 domain.KindPayment,
			Timestamp:            baseTime,
			DeviceFingerprint:    "device-1",
			Location:             newYork,
		}
	}

	first := s.engine.Evaluate(context.Background(), tx())
	if first.Decision == domain.DecisionBlock {
		t.Fatalf("first submission must not block, got %s", first.Decision)
	}

	retry := tx()
	retry.ID = "tx-dup-b"
	retry.Timestamp = baseTime.Add(20 * time.Second)
	second := s.engine.Evaluate(context.Background(), retry)

	if second.Decision != domain.DecisionBlock {
		t.Fatalf("expected duplicate block, got %s", second.Decision)
	}
	if second.OverallRisk != 100 || second.Confidence != 1.0 {
		t.Errorf("duplicate must score 100 at full confidence, got %d / %.2f", second.OverallRisk, second.Confidence)
	}
	found := false
	for _, r := range second.Reasons {
		if strings.Contains(r, "duplicate") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate reason, got %v", second.Reasons)
	}
}

func TestScoredEvaluationIsRetrievable(t *testing.T) {
	s := newStack(t)
	s.seed(t, "subject-audit", steadySeeds())

	score := s.engine.Evaluate(context.Background(), &domain.TransactionContext{
		ID:                   "tx-audit",
		SubjectID:            "subject-audit",
		AccountID:            "acct-subject-audit",
		DestinationAccountID: "dest-1",
		Amount:               120,
		Currency:             "USD",
		Kind:                 domain.KindPayment,
		Timestamp:            baseTime,
		DeviceFingerprint:    "device-1",
		Location:             newYork,
	})

	if score.ID == "" {
		t.Fatal("evaluation must carry a score id")
	}

	// The decisioned transaction lands in the log with its outcome.
	logged, err := s.log.GetTransaction(context.Background(), "tx-audit")
	if err != nil {
		t.Fatalf("evaluated transaction missing from the log: %v", err)
	}
	if logged.SubjectID != "subject-audit" {
		t.Errorf("logged transaction mismatch: %+v", logged)
	}
}
