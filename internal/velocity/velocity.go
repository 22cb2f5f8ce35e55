// Package velocity scores transaction rate and volume anomalies.
package velocity

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Signal weights. Contributions are additive and the total is capped
// at 100.
const (
	hourlyBurstPoints    = 30
	hourlyElevatedPoints = 15
	dailySharePoints     = 25
	failedAttemptsPoints = 20
	hourlyVolumePoints   = 25

	hourlyBurstCount    = 10
	hourlyElevatedCount = 5

	// dailyShareRatio flags a day that already holds more than this
	// share of the month's volume.
	dailyShareRatio = 0.20

	failedAttemptsMax = 3

	// hourlyVolumeRatio flags an hour holding more than this share of
	// the day's volume.
	hourlyVolumeRatio = 0.50
)

// Signal is one velocity anomaly that contributed to the score.
type Signal struct {
	Name        string  `json:"name"`
	Points      float64 `json:"points"`
	Description string  `json:"description"`
}

// Analyzer scores velocity anomalies. Stateless; pure function of the
// history snapshot, so it never suspends.
type Analyzer struct{}

// NewAnalyzer creates a velocity analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Evaluate returns an additive score in [0,100] plus the signals that fired.
func (a *Analyzer) Evaluate(tx *domain.TransactionContext, h *domain.TransactionHistory) (float64, []Signal) {
	var score float64
	var signals []Signal

	add := func(name string, points float64, desc string) {
		score += points
		signals = append(signals, Signal{Name: name, Points: points, Description: desc})
	}

	hourAgo := tx.Timestamp.Add(-time.Hour)
	hourCount := h.CountSince(hourAgo)
	switch {
	case hourCount > hourlyBurstCount:
		add("hourly_burst", hourlyBurstPoints,
			fmt.Sprintf("%d transactions in the last hour", hourCount))
	case hourCount >= hourlyElevatedCount:
		add("hourly_elevated", hourlyElevatedPoints,
			fmt.Sprintf("%d transactions in the last hour", hourCount))
	}

	if h.MonthlyVolume > 0 && h.DailyVolume > dailyShareRatio*h.MonthlyVolume {
		add("daily_share", dailySharePoints,
			fmt.Sprintf("daily volume %.2f exceeds %.0f%% of monthly volume %.2f",
				h.DailyVolume, dailyShareRatio*100, h.MonthlyVolume))
	}

	if h.RecentFailedCount > failedAttemptsMax {
		add("failed_attempts", failedAttemptsPoints,
			fmt.Sprintf("%d failed attempts recently", h.RecentFailedCount))
	}

	if h.DailyVolume > 0 {
		hourVolume := h.VolumeSince(hourAgo)
		if hourVolume > hourlyVolumeRatio*h.DailyVolume {
			add("hourly_volume", hourlyVolumePoints,
				fmt.Sprintf("current-hour volume %.2f exceeds %.0f%% of daily volume %.2f",
					hourVolume, hourlyVolumeRatio*100, h.DailyVolume))
		}
	}

	if score > 100 {
		score = 100
	}
	return score, signals
}
