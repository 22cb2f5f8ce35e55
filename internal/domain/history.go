package domain

import "time"

// Transaction outcome statuses recorded in the history log.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// HistoryEntry is one past transaction in a subject's rolling window,
// carrying only the fields the analyzers read.
type HistoryEntry struct {
	ID                   string       `json:"id"`
	Amount               float64      `json:"amount"`
	Kind                 string       `json:"kind"`
	Timestamp            time.Time    `json:"timestamp"`
	DestinationAccountID string       `json:"destinationAccountId,omitempty"`
	Country              string       `json:"country,omitempty"`
	Location             *Geolocation `json:"location,omitempty"`
	DeviceFingerprint    string       `json:"deviceFingerprint,omitempty"`
	Status               string       `json:"status"`
}

// TransactionHistory is a read-only snapshot of a subject's recent
// activity. Each evaluation gets its own snapshot; analyzers never
// mutate it, which is what allows the fan-out to run without locks.
type TransactionHistory struct {
	SubjectID string `json:"subjectId"`

	// Recent transactions, most recent first, bounded by the store.
	Recent []HistoryEntry `json:"recent"`

	DailyVolume   float64 `json:"dailyVolume"`
	WeeklyVolume  float64 `json:"weeklyVolume"`
	MonthlyVolume float64 `json:"monthlyVolume"`
	AverageAmount float64 `json:"averageAmount"`

	KnownCountries map[string]bool `json:"knownCountries"`
	KnownDevices   map[string]bool `json:"knownDevices"`

	RecentFailedCount int `json:"recentFailedCount"`

	// SnapshotAt records when the aggregates were computed.
	SnapshotAt time.Time `json:"snapshotAt"`
}

// EmptyHistory returns a snapshot with no activity, used when a subject
// is new or the history store is unreachable.
func EmptyHistory(subjectID string, at time.Time) *TransactionHistory {
	return &TransactionHistory{
		SubjectID:      subjectID,
		KnownCountries: map[string]bool{},
		KnownDevices:   map[string]bool{},
		SnapshotAt:     at,
	}
}

// CountSince returns how many recent transactions are at or after the cutoff.
func (h *TransactionHistory) CountSince(cutoff time.Time) int {
	n := 0
	for _, e := range h.Recent {
		if !e.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

// VolumeSince sums the amounts of recent transactions at or after the cutoff.
func (h *TransactionHistory) VolumeSince(cutoff time.Time) float64 {
	var total float64
	for _, e := range h.Recent {
		if !e.Timestamp.Before(cutoff) {
			total += e.Amount
		}
	}
	return total
}

// VolumeByKindSince sums amounts for one transaction kind after the cutoff.
func (h *TransactionHistory) VolumeByKindSince(kind string, cutoff time.Time) float64 {
	var total float64
	for _, e := range h.Recent {
		if e.Kind == kind && !e.Timestamp.Before(cutoff) {
			total += e.Amount
		}
	}
	return total
}

// KnowsCountry reports whether the subject has transacted from the country before.
func (h *TransactionHistory) KnowsCountry(country string) bool {
	return country != "" && h.KnownCountries[country]
}

// KnowsDevice reports whether the device fingerprint has been seen before.
func (h *TransactionHistory) KnowsDevice(fingerprint string) bool {
	return fingerprint != "" && h.KnownDevices[fingerprint]
}

// LastLocated returns the most recent entry that carried coordinates,
// or nil when the subject has no located history.
func (h *TransactionHistory) LastLocated() *HistoryEntry {
	for i := range h.Recent {
		if h.Recent[i].Location != nil {
			return &h.Recent[i]
		}
	}
	return nil
}
