package domain

import "time"

// Decision is the categorical outcome of a risk evaluation.
type Decision string

// The four terminal decisions. There is no intermediate state retained
// across calls; each transaction is decided independently.
const (
	DecisionApprove   Decision = "approve"
	DecisionChallenge Decision = "challenge"
	DecisionReview    Decision = "review"
	DecisionBlock     Decision = "block"
)

// RiskFactor is one named, weighted contributor to the overall score.
// The ordered factor list doubles as the evaluation's explanation.
type RiskFactor struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// FraudRiskScore is the engine's output, created once per transaction
// and never mutated afterwards.
type FraudRiskScore struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	SubjectID     string `json:"subjectId"`

	// OverallRisk is the fused score in [0,100].
	OverallRisk int `json:"overallRisk"`

	// FraudProbability comes from the external risk score provider,
	// 0 when the provider was unavailable.
	FraudProbability float64 `json:"fraudProbability"`
	MLUnavailable    bool    `json:"mlUnavailable"`

	Factors []RiskFactor `json:"factors"`

	// Per-source sub-scores before fusion, each in [0,100].
	RuleScore     float64 `json:"ruleScore"`
	BehaviorScore float64 `json:"behaviorScore"`
	VelocityScore float64 `json:"velocityScore"`
	AccountRisk   float64 `json:"accountRisk"`

	Decision Decision `json:"decision"`
	Reasons  []string `json:"reasons"`

	RequiresAuthentication bool `json:"requiresAuthentication"`
	RequiresManualReview   bool `json:"requiresManualReview"`

	// Confidence in [0,1]: agreement across the independent signal
	// sources, not certainty of fraud.
	Confidence float64 `json:"confidence"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// Blocked reports whether the decision denies the transaction outright.
func (s *FraudRiskScore) Blocked() bool {
	return s.Decision == DecisionBlock
}
