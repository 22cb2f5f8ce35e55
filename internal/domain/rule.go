package domain

// Suggested action classes a rule can carry. The orchestrator makes the
// final call; the suggestion is advisory and surfaces in explanations.
const (
	ActionFlag      = "flag"
	ActionChallenge = "challenge"
	ActionReview    = "review"
	ActionBlock     = "block"
)

// RuleFunc scores a transaction against its history. Implementations are
// pure: no side effects, no shared state, score in [0,100].
type RuleFunc func(tx *TransactionContext, history *TransactionHistory) float64

// FraudRule is one named entry in the rule registry.
type FraudRule struct {
	ID          string
	Name        string
	Description string
	Evaluate    RuleFunc
	Weight      float64
	// Threshold is the rule's own activation floor: scores at or below
	// it do not contribute to the engine's weighted mean.
	Threshold       float64
	SuggestedAction string
}

// RuleHit records one rule that fired during an evaluation.
type RuleHit struct {
	RuleID          string  `json:"ruleId"`
	Name            string  `json:"name"`
	Score           float64 `json:"score"`
	Weight          float64 `json:"weight"`
	SuggestedAction string  `json:"suggestedAction"`
	Description     string  `json:"description"`
}

// RuleScript is an operator-authored expression rule, persisted in the
// repository and compiled to CEL at load time. Scripts evaluate in the
// same registry as builtin rules under the same weighted-mean contract.
type RuleScript struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is a CEL expression over the evaluation variables
	// returning bool (0/100), int, or double in [0,100].
	Expression string `json:"expression"`

	Weight          float64 `json:"weight"`
	Threshold       float64 `json:"threshold"`
	SuggestedAction string  `json:"suggestedAction"`
	Enabled         bool    `json:"enabled"`
}
