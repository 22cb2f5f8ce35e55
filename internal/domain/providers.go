package domain

import (
	"context"
	"time"
)

// RiskScorer is the external risk score provider: a black-box function
// from a prepared feature vector to a fraud probability in [0,1]. It
// may be slow or unavailable; callers bound it with a context timeout
// and treat failure as probability 0 with an unavailability flag.
type RiskScorer interface {
	Score(ctx context.Context, features *FeatureVector) (float64, error)
}

// AccountRiskProvider is the optional business/account risk
// verification service, returning a score in [0,100]. Unavailability
// defaults to the neutral midpoint 50, because unknown must not read
// as safe.
type AccountRiskProvider interface {
	AccountRisk(ctx context.Context, subjectID string) (float64, error)
}

// AuditLogger receives every FraudRiskScore for the compliance trail.
// Writes are fire-and-forget: an audit failure never fails the
// evaluation that produced the score.
type AuditLogger interface {
	LogScore(ctx context.Context, score *FraudRiskScore)
}

// MetricsSink receives engine telemetry. Injected at construction so
// there is no global mutable metrics state and parallel engine
// instances can be tested in isolation.
type MetricsSink interface {
	RecordEvaluation(decision Decision, overallRisk int, duration time.Duration)
	RecordScorerOutage()
	RecordDuplicate()
}

// NopMetrics is a MetricsSink that discards everything.
type NopMetrics struct{}

// RecordEvaluation implements MetricsSink.
func (NopMetrics) RecordEvaluation(Decision, int, time.Duration) {}

// RecordScorerOutage implements MetricsSink.
func (NopMetrics) RecordScorerOutage() {}

// RecordDuplicate implements MetricsSink.
func (NopMetrics) RecordDuplicate() {}
