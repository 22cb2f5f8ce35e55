// Package behavior scores off-pattern transaction signals.
package behavior

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Signal weights. Contributions are additive and the total is capped
// at 100.
const (
	unusualHourPoints    = 15
	amountOutlierPoints  = 25
	newCountryPoints     = 30
	newDevicePoints      = 20
	repeatTransferPoints = 15

	amountOutlierMultiple = 5.0

	// repeatWindow and repeatMax bound the identical-transfer signal:
	// same amount to the same destination more than repeatMax times.
	repeatWindow = 24 * time.Hour
	repeatMax    = 2
)

// Signal is one behavioral anomaly that contributed to the score.
type Signal struct {
	Name        string  `json:"name"`
	Points      float64 `json:"points"`
	Description string  `json:"description"`
}

// Analyzer scores behavioral anomalies. Stateless; safe to share.
type Analyzer struct{}

// NewAnalyzer creates a behavioral analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Evaluate returns an additive score in [0,100] plus the signals that
// fired, derived purely from the transaction and its history snapshot.
func (a *Analyzer) Evaluate(tx *domain.TransactionContext, h *domain.TransactionHistory) (float64, []Signal) {
	var score float64
	var signals []Signal

	add := func(name string, points float64, desc string) {
		score += points
		signals = append(signals, Signal{Name: name, Points: points, Description: desc})
	}

	hour := tx.Timestamp.Hour()
	if hour < 6 || hour >= 23 {
		add("unusual_hour", unusualHourPoints,
			fmt.Sprintf("transaction at %02d:00, outside the subject's usual hours", hour))
	}

	if h.AverageAmount > 0 && tx.Amount > amountOutlierMultiple*h.AverageAmount {
		add("amount_outlier", amountOutlierPoints,
			fmt.Sprintf("amount %.2f exceeds %.0fx the historical average %.2f",
				tx.Amount, amountOutlierMultiple, h.AverageAmount))
	}

	if country := tx.Country(); country != "" && len(h.KnownCountries) > 0 && !h.KnowsCountry(country) {
		add("new_country", newCountryPoints,
			fmt.Sprintf("first transaction from %s for this subject", country))
	}

	if fp := tx.DeviceFingerprint; fp != "" && len(h.KnownDevices) > 0 && !h.KnowsDevice(fp) {
		add("new_device", newDevicePoints, "unrecognized device fingerprint")
	}

	if n := a.repeatCount(tx, h); n > repeatMax {
		add("repeated_transfer", repeatTransferPoints,
			fmt.Sprintf("identical amount to the same destination %d times recently", n))
	}

	if score > 100 {
		score = 100
	}
	return score, signals
}

// repeatCount counts recent transactions with the same amount and
// destination as the one under evaluation.
func (a *Analyzer) repeatCount(tx *domain.TransactionContext, h *domain.TransactionHistory) int {
	if tx.DestinationAccountID == "" {
		return 0
	}
	cutoff := tx.Timestamp.Add(-repeatWindow)

	n := 0
	for _, e := range h.Recent {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if e.DestinationAccountID == tx.DestinationAccountID && e.Amount == tx.Amount {
			n++
		}
	}
	return n
}
