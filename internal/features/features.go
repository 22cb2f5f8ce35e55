// Package features builds the versioned feature vector for external
// risk scoring and provides scorer implementations.
package features

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Normalization caps. Part of the v1 contract: changing any of them
// changes the vector and requires a version bump.
const (
	amountLogCap     = 7.0  // log10 of 10M
	avgAmountLogCap  = 6.0  // log10 of 1M
	volumeLogCap     = 8.0  // log10 of 100M
	amountOverAvgCap = 20.0
	hourlyCountCap   = 20.0
	failedCountCap   = 10.0
)

// Build encodes a transaction and its history snapshot as the v1
// feature vector. Every field lands in [0,1]; log scaling keeps large
// monetary outliers from saturating.
func Build(tx *domain.TransactionContext, h *domain.TransactionHistory) *domain.FeatureVector {
	f := &domain.FeatureVector{Version: domain.FeatureVersion}

	f.AmountNorm = logNorm(tx.Amount, amountLogCap)

	switch tx.Kind {
	case domain.KindPayment:
		f.IsPayment = 1
	case domain.KindTransfer:
		f.IsTransfer = 1
	case domain.KindWithdrawal:
		f.IsWithdrawal = 1
	case domain.KindDeposit:
		f.IsDeposit = 1
	}

	f.HourOfDay = float64(tx.Timestamp.Hour()) / 24.0
	f.DayOfWeek = float64(tx.Timestamp.Weekday()) / 7.0

	f.AvgAmountNorm = logNorm(h.AverageAmount, avgAmountLogCap)
	f.DailyVolumeNorm = logNorm(h.DailyVolume, volumeLogCap)
	f.MonthlyVolumeNorm = logNorm(h.MonthlyVolume, volumeLogCap)

	if h.AverageAmount > 0 {
		f.AmountOverAvg = capNorm(tx.Amount/h.AverageAmount, amountOverAvgCap)
	}

	if fp := tx.DeviceFingerprint; fp != "" && len(h.KnownDevices) > 0 && !h.KnowsDevice(fp) {
		f.NewDevice = 1
	}
	if c := tx.Country(); c != "" && len(h.KnownCountries) > 0 && !h.KnowsCountry(c) {
		f.NewCountry = 1
	}

	f.TxLastHourNorm = capNorm(float64(h.CountSince(tx.Timestamp.Add(-time.Hour))), hourlyCountCap)
	f.FailedRecent = capNorm(float64(h.RecentFailedCount), failedCountCap)

	return f
}

// logNorm maps v to [0,1] on a log10 scale capped at capLog.
func logNorm(v, capLog float64) float64 {
	if v <= 1 {
		return 0
	}
	n := math.Log10(v) / capLog
	if n > 1 {
		return 1
	}
	return n
}

// capNorm maps v to [0,1] linearly, saturating at cap.
func capNorm(v, cap float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= cap {
		return 1
	}
	return v / cap
}
