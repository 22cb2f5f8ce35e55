package rules

import (
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Tunables for the builtin rule set. These mirror production settings;
// operators needing different cut lines add expression rules instead of
// recompiling.
const (
	// highValueFloor is the absolute amount that counts as high value
	// even for subjects with no history.
	highValueFloor = 10000.0
	// highValueMultiple is the historical-average multiple that marks
	// an outlier.
	highValueMultiple = 10.0

	// rapidWindow and rapidMax define the burst rule.
	rapidWindow = 5 * time.Minute
	rapidMax    = 3

	// maxTravelSpeedKmh is roughly a commercial flight. Apparent speed
	// above it between consecutive located transactions is impossible
	// travel.
	maxTravelSpeedKmh = 900.0

	// muleWindow and muleBalanceRatio define the pass-through pattern:
	// deposit and withdrawal volumes within the window whose smaller
	// side is at least this share of the larger.
	muleWindow       = 24 * time.Hour
	muleBalanceRatio = 0.8
	muleVolumeFloor  = 1000.0
)

// BuiltinRules returns the standing rule registry. Each rule is a pure
// function of the transaction and its history snapshot, independently
// testable with synthetic pairs.
func BuiltinRules() []*domain.FraudRule {
	return []*domain.FraudRule{
		{
			ID:              "high-value-outlier",
			Name:            "High value outlier",
			Description:     "Amount far exceeds the subject's historical average or the absolute floor",
			Evaluate:        ruleHighValueOutlier,
			Weight:          1.0,
			Threshold:       30,
			SuggestedAction: domain.ActionChallenge,
		},
		{
			ID:              "rapid-succession",
			Name:            "Rapid succession",
			Description:     "More than 3 transactions inside 5 minutes",
			Evaluate:        ruleRapidSuccession,
			Weight:          0.9,
			Threshold:       30,
			SuggestedAction: domain.ActionReview,
		},
		{
			ID:              "geographic-anomaly",
			Name:            "Geographic anomaly",
			Description:     "Impossible travel speed between consecutive locations, or a brand-new country",
			Evaluate:        ruleGeographicAnomaly,
			Weight:          1.2,
			Threshold:       40,
			SuggestedAction: domain.ActionBlock,
		},
		{
			ID:              "account-takeover",
			Name:            "Account takeover pattern",
			Description:     "New device combined with outsized amount, prior failures, or unusual-hour new location",
			Evaluate:        ruleAccountTakeover,
			Weight:          1.1,
			Threshold:       40,
			SuggestedAction: domain.ActionReview,
		},
		{
			ID:              "money-mule",
			Name:            "Money mule pattern",
			Description:     "Near-equal deposit and withdrawal volumes within 24 hours",
			Evaluate:        ruleMoneyMule,
			Weight:          1.0,
			Threshold:       40,
			SuggestedAction: domain.ActionReview,
		},
	}
}

func ruleHighValueOutlier(tx *domain.TransactionContext, h *domain.TransactionHistory) float64 {
	if h.AverageAmount > 0 {
		ratio := tx.Amount / h.AverageAmount
		if ratio >= highValueMultiple {
			return clampScore(50 + (ratio-highValueMultiple)*5)
		}
		// Large multiples below the outlier line still nudge the score.
		if ratio >= highValueMultiple/2 {
			return clampScore(ratio / highValueMultiple * 50)
		}
		return 0
	}

	// No history: only the absolute floor applies.
	if tx.Amount >= highValueFloor {
		return clampScore(60 + (tx.Amount/highValueFloor-1)*10)
	}
	return 0
}

func ruleRapidSuccession(tx *domain.TransactionContext, h *domain.TransactionHistory) float64 {
	count := h.CountSince(tx.Timestamp.Add(-rapidWindow))
	if count <= rapidMax {
		return 0
	}
	return clampScore(40 + float64(count-rapidMax)*15)
}

func ruleGeographicAnomaly(tx *domain.TransactionContext, h *domain.TransactionHistory) float64 {
	if tx.Location == nil {
		return 0
	}

	var score float64

	if !h.KnowsCountry(tx.Location.Country) && len(h.KnownCountries) > 0 {
		score = 60
	}

	// Impossible travel: apparent speed from the last located
	// transaction exceeds anything commercially flyable.
	if last := h.LastLocated(); last != nil && last.Location != nil && tx.Location.Latitude != 0 {
		distKm := haversineKm(
			last.Location.Latitude, last.Location.Longitude,
			tx.Location.Latitude, tx.Location.Longitude,
		)
		elapsed := tx.Timestamp.Sub(last.Timestamp).Hours()
		if elapsed > 0 && distKm > 50 {
			speed := distKm / elapsed
			if speed > maxTravelSpeedKmh {
				score = 100
			}
		}
	}

	return score
}

func ruleAccountTakeover(tx *domain.TransactionContext, h *domain.TransactionHistory) float64 {
	newDevice := tx.DeviceFingerprint != "" && !h.KnowsDevice(tx.DeviceFingerprint) && len(h.KnownDevices) > 0
	if !newDevice {
		return 0
	}

	var score float64

	if h.AverageAmount > 0 && tx.Amount > 3*h.AverageAmount {
		score += 50
	}
	if h.RecentFailedCount > 0 {
		score += 30
	}

	hour := tx.Timestamp.Hour()
	unusualHour := hour < 6 || hour >= 23
	newLocation := tx.Location != nil && !h.KnowsCountry(tx.Location.Country)
	if unusualHour && newLocation {
		score += 40
	}

	return clampScore(score)
}

func ruleMoneyMule(tx *domain.TransactionContext, h *domain.TransactionHistory) float64 {
	cutoff := tx.Timestamp.Add(-muleWindow)

	deposits := h.VolumeByKindSince(domain.KindDeposit, cutoff)
	withdrawals := h.VolumeByKindSince(domain.KindWithdrawal, cutoff)

	// Count the transaction under evaluation toward its own side: the
	// pattern usually completes on the withdrawal leg.
	switch tx.Kind {
	case domain.KindDeposit:
		deposits += tx.Amount
	case domain.KindWithdrawal:
		withdrawals += tx.Amount
	default:
		return 0
	}

	if deposits < muleVolumeFloor || withdrawals < muleVolumeFloor {
		return 0
	}

	smaller, larger := deposits, withdrawals
	if smaller > larger {
		smaller, larger = larger, smaller
	}

	if smaller/larger >= muleBalanceRatio {
		return 80
	}
	return 0
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
