// Package engine implements the risk orchestrator, the public entry
// point of Kestrel.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/dedup"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Factor names as they appear in the explanation trail.
const (
	factorML          = "ml_fraud_probability"
	factorRules       = "rule_based"
	factorBehavior    = "behavioral"
	factorVelocity    = "velocity"
	factorAccountRisk = "account_risk"
)

// neutralRisk is the midpoint returned when the engine cannot analyze
// the transaction at all. Unknown must route to a human, not to a
// silent approve or a blind block.
const neutralRisk = 50

// Deps are the orchestrator's collaborators. Rules, Behavior, Velocity,
// History and Dedup are required; the rest degrade to safe defaults
// when nil.
type Deps struct {
	Rules    *rules.Engine
	Behavior *behavior.Analyzer
	Velocity *velocity.Analyzer
	History  *history.Store
	Dedup    *dedup.Detector

	Scorer      domain.RiskScorer
	AccountRisk domain.AccountRiskProvider

	Bus     domain.EventBus
	Audit   domain.AuditLogger
	Metrics domain.MetricsSink
}

// Engine fuses the independent analyzers into one bounded risk score
// and a decision. Safe for concurrent use; every evaluation is an
// independent pure composition over the shared stateless analyzers.
type Engine struct {
	cfg    domain.EngineConfig
	deps   Deps
	tracer trace.Tracer
	newID  func() string
}

// New creates an orchestrator. The configuration is validated once
// here so Evaluate never has to.
func New(cfg domain.EngineConfig, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if deps.Rules == nil || deps.Behavior == nil || deps.Velocity == nil {
		return nil, fmt.Errorf("engine requires rule, behavior and velocity analyzers")
	}
	if deps.History == nil || deps.Dedup == nil {
		return nil, fmt.Errorf("engine requires a history store and a duplicate detector")
	}
	if deps.Metrics == nil {
		deps.Metrics = domain.NopMetrics{}
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		tracer: otel.Tracer("kestrel/engine"),
		newID:  uuid.NewString,
	}, nil
}

// Rules exposes the rule engine for the management API.
func (e *Engine) Rules() *rules.Engine {
	return e.deps.Rules
}

// Evaluate scores one transaction. It never returns an error: any
// internal failure degrades to a review decision with confidence 0,
// and a recovered panic does the same.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.TransactionContext) (score *domain.FraudRiskScore) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "engine.Evaluate")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("evaluation panicked",
				"transaction_id", tx.ID,
				"panic", r,
			)
			score = e.fallbackScore(tx, fmt.Sprintf("internal error during evaluation: %v", r))
		}
		span.SetAttributes(
			attribute.String("transaction.id", tx.ID),
			attribute.String("decision", string(score.Decision)),
			attribute.Int("overall_risk", score.OverallRisk),
		)
		e.deps.Metrics.RecordEvaluation(score.Decision, score.OverallRisk, time.Since(start))
		e.finish(ctx, tx, score)
	}()

	if err := tx.Validate(); err != nil {
		return e.fallbackScore(tx, fmt.Sprintf("invalid transaction: %v", err))
	}

	if dup, err := e.deps.Dedup.IsDuplicate(ctx, tx); err != nil {
		slog.Warn("duplicate check failed, continuing",
			"transaction_id", tx.ID,
			"error", err,
		)
	} else if dup {
		e.deps.Metrics.RecordDuplicate()
		return e.duplicateScore(tx)
	}

	hist, err := e.deps.History.GetHistory(ctx, tx.SubjectID, tx.Timestamp)
	historyUnavailable := err != nil
	if historyUnavailable {
		slog.Warn("history unavailable, evaluating without it",
			"subject_id", tx.SubjectID,
			"error", err,
		)
		hist = domain.EmptyHistory(tx.SubjectID, tx.Timestamp)
	}

	sub := e.fanOut(ctx, tx, hist)
	sub.historyUnavailable = historyUnavailable
	return e.fuse(tx, sub)
}

// subScores carries the fan-out results into fusion.
type subScores struct {
	ruleResult    *rules.Result
	behaviorScore float64
	behaviorSigs  []behavior.Signal
	velocityScore float64
	velocitySigs  []velocity.Signal

	probability   float64
	mlUnavailable bool

	accountRisk float64

	historyUnavailable bool
}

// fanOut runs the five independent analyses concurrently. Each
// goroutine writes a distinct field; the WaitGroup orders the writes
// before the reads.
func (e *Engine) fanOut(ctx context.Context, tx *domain.TransactionContext, hist *domain.TransactionHistory) *subScores {
	ctx, span := e.tracer.Start(ctx, "engine.fanOut")
	defer span.End()

	sub := &subScores{accountRisk: neutralRisk}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		sub.ruleResult = e.deps.Rules.Evaluate(tx, hist)
	}()
	go func() {
		defer wg.Done()
		sub.behaviorScore, sub.behaviorSigs = e.deps.Behavior.Evaluate(tx, hist)
	}()
	go func() {
		defer wg.Done()
		sub.velocityScore, sub.velocitySigs = e.deps.Velocity.Evaluate(tx, hist)
	}()

	if e.deps.Scorer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.probability, sub.mlUnavailable = e.scoreML(ctx, tx, hist)
		}()
	} else {
		sub.mlUnavailable = true
	}

	if e.deps.AccountRisk != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			risk, err := e.deps.AccountRisk.AccountRisk(ctx, tx.SubjectID)
			if err != nil {
				slog.Warn("account risk unavailable, using neutral midpoint",
					"subject_id", tx.SubjectID,
					"error", err,
				)
				risk = neutralRisk
			}
			sub.accountRisk = clamp(risk, 0, 100)
		}()
	}

	wg.Wait()
	return sub
}

// scoreML calls the external risk score provider under a hard timeout.
// Timeout and error are the same outcome: probability 0, flagged
// unavailable, the rest of the evaluation unaffected.
func (e *Engine) scoreML(ctx context.Context, tx *domain.TransactionContext, hist *domain.TransactionHistory) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScorerTimeout)
	defer cancel()

	vector := features.Build(tx, hist)
	p, err := e.deps.Scorer.Score(ctx, vector)
	if err != nil {
		slog.Warn("risk scorer unavailable",
			"transaction_id", tx.ID,
			"error", err,
		)
		e.deps.Metrics.RecordScorerOutage()
		return 0, true
	}
	return clamp(p, 0, 1), false
}

// fuse combines the sub-scores into the weighted overall risk, runs
// the decision machine and assembles the explanation.
func (e *Engine) fuse(tx *domain.TransactionContext, sub *subScores) *domain.FraudRiskScore {
	w := e.cfg.Weights
	factors := []domain.RiskFactor{
		{
			Name:        factorML,
			Score:       sub.probability * 100,
			Weight:      w.ML,
			Description: mlDescription(sub),
		},
		{
			Name:        factorRules,
			Score:       sub.ruleResult.Score,
			Weight:      w.Rules,
			Description: ruleDescription(sub.ruleResult),
		},
		{
			Name:        factorBehavior,
			Score:       sub.behaviorScore,
			Weight:      w.Behavior,
			Description: behaviorDescription(sub.behaviorSigs),
		},
		{
			Name:        factorVelocity,
			Score:       sub.velocityScore,
			Weight:      w.Velocity,
			Description: velocityDescription(sub.velocitySigs),
		},
		{
			Name:        factorAccountRisk,
			Score:       sub.accountRisk,
			Weight:      w.AccountRisk,
			Description: "external account risk assessment",
		},
	}

	var weighted float64
	for _, f := range factors {
		weighted += f.Score * f.Weight
	}
	overall := int(math.Round(clamp(weighted, 0, 100)))

	// A rule firing decisively lifts the overall risk to the band its
	// suggested action names. The fusion weights dilute even a maxed-out
	// rule to a quarter of the scale; a confirmed money-mule pattern or
	// an impossible-travel hit must not fuse down into an approve.
	if floor := e.ruleFloor(sub.ruleResult); floor > overall {
		overall = floor
	}

	decision := e.decide(overall, sub.probability)

	conf := confidence(factors)
	if sub.historyUnavailable {
		// Scoring blind halves how much the agreement number means.
		conf /= 2
	}

	return &domain.FraudRiskScore{
		ID:               e.newID(),
		TransactionID:    tx.ID,
		SubjectID:        tx.SubjectID,
		OverallRisk:      overall,
		FraudProbability: sub.probability,
		MLUnavailable:    sub.mlUnavailable,
		Factors:          factors,
		RuleScore:        sub.ruleResult.Score,
		BehaviorScore:    sub.behaviorScore,
		VelocityScore:    sub.velocityScore,
		AccountRisk:      sub.accountRisk,
		Decision:         decision,
		Reasons:          e.reasons(factors, decision, overall, sub),

		RequiresAuthentication: decision == domain.DecisionChallenge,
		RequiresManualReview:   decision == domain.DecisionReview,

		Confidence:  conf,
		EvaluatedAt: time.Now().UTC(),
	}
}

// ruleEscalationFloor is the rule score at which a hit's suggested
// action starts binding the decision.
const ruleEscalationFloor = 80

// ruleFloor returns the minimum overall risk implied by decisive rule
// hits, or 0 when no rule fired that strongly.
func (e *Engine) ruleFloor(res *rules.Result) int {
	floor := 0
	for _, hit := range res.Hits {
		if hit.Score < ruleEscalationFloor {
			continue
		}
		var band int
		switch hit.SuggestedAction {
		case domain.ActionBlock:
			band = e.cfg.Thresholds.Block
		case domain.ActionReview:
			band = e.cfg.Thresholds.Review
		case domain.ActionChallenge:
			band = e.cfg.Thresholds.Challenge
		default:
			continue
		}
		if band > floor {
			floor = band
		}
	}
	return floor
}

// decide maps overall risk and the raw fraud probability to a
// decision. Either signal can force a block on its own.
func (e *Engine) decide(overall int, probability float64) domain.Decision {
	t := e.cfg.Thresholds
	switch {
	case probability > e.cfg.BlockProbability:
		return domain.DecisionBlock
	case overall >= t.Block:
		return domain.DecisionBlock
	case overall >= t.Review:
		return domain.DecisionReview
	case overall >= t.Challenge:
		return domain.DecisionChallenge
	default:
		return domain.DecisionApprove
	}
}

// confidence measures agreement across the sub-scores: the closer they
// sit to each other, the more the fused number means.
func confidence(factors []domain.RiskFactor) float64 {
	n := float64(len(factors))
	if n == 0 {
		return 0
	}

	var mean float64
	for _, f := range factors {
		mean += f.Score
	}
	mean /= n

	var variance float64
	for _, f := range factors {
		d := f.Score - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / n)

	return clamp(1-stddev/50, 0, 1)
}

// reasons builds the human-readable explanation: factors above the
// configured floor, most significant first, then any degradation notes
// and the decision summary.
func (e *Engine) reasons(factors []domain.RiskFactor, decision domain.Decision, overall int, sub *subScores) []string {
	elevated := make([]domain.RiskFactor, 0, len(factors))
	for _, f := range factors {
		if f.Score > e.cfg.ReasonFloor {
			elevated = append(elevated, f)
		}
	}
	sort.Slice(elevated, func(i, j int) bool {
		return elevated[i].Score*elevated[i].Weight > elevated[j].Score*elevated[j].Weight
	})

	out := make([]string, 0, len(elevated)+2)
	for _, f := range elevated {
		out = append(out, fmt.Sprintf("%s scored %.0f: %s", f.Name, f.Score, f.Description))
	}
	if sub.mlUnavailable {
		out = append(out, "external risk scorer unavailable, evaluated without ML signal")
	}
	if sub.historyUnavailable {
		out = append(out, "transaction history unavailable, evaluated without prior activity")
	}
	out = append(out, fmt.Sprintf("decision %s at overall risk %d", decision, overall))
	return out
}

// duplicateScore is the immediate block for an exact repeat.
func (e *Engine) duplicateScore(tx *domain.TransactionContext) *domain.FraudRiskScore {
	return &domain.FraudRiskScore{
		ID:            e.newID(),
		TransactionID: tx.ID,
		SubjectID:     tx.SubjectID,
		OverallRisk:   100,
		Decision:      domain.DecisionBlock,
		Reasons:       []string{"duplicate of a transaction submitted moments ago"},
		Confidence:    1.0,
		EvaluatedAt:   time.Now().UTC(),
	}
}

// fallbackScore is the fail-open-to-human result: neutral risk, held
// for review, confidence zero.
func (e *Engine) fallbackScore(tx *domain.TransactionContext, reason string) *domain.FraudRiskScore {
	return &domain.FraudRiskScore{
		ID:                   e.newID(),
		TransactionID:        tx.ID,
		SubjectID:            tx.SubjectID,
		OverallRisk:          neutralRisk,
		Decision:             domain.DecisionReview,
		Reasons:              []string{reason},
		RequiresManualReview: true,
		Confidence:           0,
		EvaluatedAt:          time.Now().UTC(),
	}
}

// finish runs the post-decision side effects: audit trail, transaction
// log, events. All fire-and-forget; none can fail the evaluation.
func (e *Engine) finish(ctx context.Context, tx *domain.TransactionContext, score *domain.FraudRiskScore) {
	if e.deps.Audit != nil {
		e.deps.Audit.LogScore(ctx, score)
	}

	if tx.Validate() == nil {
		status := domain.StatusCompleted
		if score.Blocked() {
			status = domain.StatusFailed
		}
		if err := e.deps.History.Record(ctx, tx, score.Decision, status); err != nil {
			slog.Warn("transaction log append failed",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	e.publish(ctx, domain.TopicTransactionAnalyzed, score)
	if score.Blocked() {
		e.publish(ctx, domain.TopicFraudDetected, score)
	}
}

func (e *Engine) publish(ctx context.Context, topic string, score *domain.FraudRiskScore) {
	if e.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(score)
	if err != nil {
		return
	}
	if err := e.deps.Bus.Publish(context.WithoutCancel(ctx), topic, payload); err != nil {
		slog.Warn("event publish failed",
			"topic", topic,
			"transaction_id", score.TransactionID,
			"error", err,
		)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mlDescription(sub *subScores) string {
	if sub.mlUnavailable {
		return "external risk scorer unavailable"
	}
	return fmt.Sprintf("model fraud probability %.2f", sub.probability)
}

func ruleDescription(res *rules.Result) string {
	if len(res.Hits) == 0 {
		return "no fraud rules triggered"
	}
	names := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		names = append(names, h.Name)
	}
	return "triggered rules: " + strings.Join(names, ", ")
}

func behaviorDescription(sigs []behavior.Signal) string {
	if len(sigs) == 0 {
		return "no behavioral anomalies"
	}
	names := make([]string, 0, len(sigs))
	for _, s := range sigs {
		names = append(names, s.Name)
	}
	return "behavioral signals: " + strings.Join(names, ", ")
}

func velocityDescription(sigs []velocity.Signal) string {
	if len(sigs) == 0 {
		return "no velocity anomalies"
	}
	names := make([]string, 0, len(sigs))
	for _, s := range sigs {
		names = append(names, s.Name)
	}
	return "velocity signals: " + strings.Join(names, ", ")
}
