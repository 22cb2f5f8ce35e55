// Package rules provides the weighted fraud rule registry.
package rules

import (
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates the rule registry against one transaction and its
// history snapshot. Builtin Go rules and compiled expression rules run
// under the same contract: score in [0,100], triggered when the score
// exceeds the rule's own threshold, fused as a weighted mean over
// triggered rules only.
type Engine struct {
	mu       sync.RWMutex
	builtin  []*domain.FraudRule
	compiled map[string]*compiledScript
}

// NewEngine creates an engine with the standing builtin registry.
func NewEngine() *Engine {
	return &Engine{
		builtin:  BuiltinRules(),
		compiled: make(map[string]*compiledScript),
	}
}

// Result carries the fused rule score and the individual hits for the
// explanation trail.
type Result struct {
	Score float64
	Hits  []domain.RuleHit
}

// Evaluate runs every registered rule. A single rule panicking is
// logged and skipped; it never aborts the evaluation.
func (e *Engine) Evaluate(tx *domain.TransactionContext, history *domain.TransactionHistory) *Result {
	e.mu.RLock()
	builtin := e.builtin
	scripts := make([]*compiledScript, 0, len(e.compiled))
	for _, s := range e.compiled {
		scripts = append(scripts, s)
	}
	e.mu.RUnlock()

	res := &Result{}
	var weightedSum, weightTotal float64

	record := func(id, name, action, desc string, score, weight, threshold float64) {
		if score <= threshold {
			return
		}
		weightedSum += score * weight
		weightTotal += weight
		res.Hits = append(res.Hits, domain.RuleHit{
			RuleID:          id,
			Name:            name,
			Score:           score,
			Weight:          weight,
			SuggestedAction: action,
			Description:     desc,
		})
	}

	for _, rule := range builtin {
		score := e.safeEvaluate(rule, tx, history)
		record(rule.ID, rule.Name, rule.SuggestedAction, rule.Description, score, rule.Weight, rule.Threshold)
	}

	var activation map[string]any
	if len(scripts) > 0 {
		activation = scriptActivation(tx, history)
	}
	for _, script := range scripts {
		score, err := script.evaluate(activation)
		if err != nil {
			slog.Warn("expression rule failed",
				"rule_id", script.cfg.ID,
				"error", err,
			)
			continue
		}
		record(script.cfg.ID, script.cfg.Name, script.cfg.SuggestedAction, script.cfg.Description,
			score, script.cfg.Weight, script.cfg.Threshold)
	}

	if weightTotal > 0 {
		res.Score = weightedSum / weightTotal
	}
	return res
}

// safeEvaluate isolates a rule panic to that rule alone.
func (e *Engine) safeEvaluate(rule *domain.FraudRule, tx *domain.TransactionContext, history *domain.TransactionHistory) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rule panicked",
				"rule_id", rule.ID,
				"panic", r,
			)
			score = 0
		}
	}()
	score = clampScore(rule.Evaluate(tx, history))
	return score
}

// LoadScript compiles and registers an expression rule.
func (e *Engine) LoadScript(cfg *domain.RuleScript) error {
	compiled, err := compileScript(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[cfg.ID] = compiled
	e.mu.Unlock()
	return nil
}

// ValidateScript compiles a script without registering it.
func (e *Engine) ValidateScript(cfg *domain.RuleScript) error {
	_, err := compileScript(cfg)
	return err
}

// ReloadScripts replaces all expression rules atomically. Used by the
// hot-reload endpoint after scripts change in the repository.
func (e *Engine) ReloadScripts(configs []*domain.RuleScript) error {
	next := make(map[string]*compiledScript, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := compileScript(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of registered rules, builtin plus scripts.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.builtin) + len(e.compiled)
}

// Scripts returns the currently loaded expression rule configs.
func (e *Engine) Scripts() []*domain.RuleScript {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleScript, 0, len(e.compiled))
	for _, s := range e.compiled {
		out = append(out, s.cfg)
	}
	return out
}

// scriptActivation builds the variable bindings expression rules see.
func scriptActivation(tx *domain.TransactionContext, h *domain.TransactionHistory) map[string]any {
	hourAgo := tx.Timestamp.Add(-time.Hour)
	fiveMinAgo := tx.Timestamp.Add(-5 * time.Minute)

	newDevice := tx.DeviceFingerprint != "" && !h.KnowsDevice(tx.DeviceFingerprint) && len(h.KnownDevices) > 0
	newCountry := tx.Country() != "" && !h.KnowsCountry(tx.Country()) && len(h.KnownCountries) > 0

	return map[string]any{
		"amount":         tx.Amount,
		"currency":       tx.Currency,
		"kind":           tx.Kind,
		"hour":           int64(tx.Timestamp.Hour()),
		"country":        tx.Country(),
		"new_device":     newDevice,
		"new_country":    newCountry,
		"avg_amount":     h.AverageAmount,
		"daily_volume":   h.DailyVolume,
		"weekly_volume":  h.WeeklyVolume,
		"monthly_volume": h.MonthlyVolume,
		"tx_count_1h":    int64(h.CountSince(hourAgo)),
		"tx_count_5m":    int64(h.CountSince(fiveMinAgo)),
		"failed_count":   int64(h.RecentFailedCount),
	}
}
