package domain

// FeatureVersion identifies the feature vector layout. The vector is
// the wire contract between this engine and any inference backend;
// changing a field, its order, or its normalization requires a new
// version so backends can reject mismatched inputs.
const FeatureVersion = "v1"

// FeatureVector is the fixed-shape numeric encoding of one transaction
// plus its history snapshot, all values normalized to [0,1].
type FeatureVector struct {
	Version string `json:"version"`

	// Transaction
	AmountNorm   float64 `json:"amountNorm"`   // log-scaled amount
	IsPayment    float64 `json:"isPayment"`    // kind one-hots
	IsTransfer   float64 `json:"isTransfer"`
	IsWithdrawal float64 `json:"isWithdrawal"`
	IsDeposit    float64 `json:"isDeposit"`
	HourOfDay    float64 `json:"hourOfDay"` // hour/24
	DayOfWeek    float64 `json:"dayOfWeek"` // weekday/7

	// History aggregates
	AvgAmountNorm     float64 `json:"avgAmountNorm"`
	DailyVolumeNorm   float64 `json:"dailyVolumeNorm"`
	MonthlyVolumeNorm float64 `json:"monthlyVolumeNorm"`
	AmountOverAvg     float64 `json:"amountOverAvg"` // amount/avg, capped

	// Novelty flags
	NewDevice  float64 `json:"newDevice"`
	NewCountry float64 `json:"newCountry"`

	// Velocity
	TxLastHourNorm  float64 `json:"txLastHourNorm"` // count/20, capped
	FailedRecent    float64 `json:"failedRecent"`   // count/10, capped
}

// Values returns the numeric fields in their fixed contract order.
// Inference backends that take a flat array consume this.
func (f *FeatureVector) Values() []float64 {
	return []float64{
		f.AmountNorm,
		f.IsPayment, f.IsTransfer, f.IsWithdrawal, f.IsDeposit,
		f.HourOfDay, f.DayOfWeek,
		f.AvgAmountNorm, f.DailyVolumeNorm, f.MonthlyVolumeNorm, f.AmountOverAvg,
		f.NewDevice, f.NewCountry,
		f.TxLastHourNorm, f.FailedRecent,
	}
}
