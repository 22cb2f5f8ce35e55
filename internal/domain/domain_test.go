package domain

import (
	"errors"
	"testing"
	"time"
)

var domTime = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func validTx() *TransactionContext {
	return &TransactionContext{
		ID:        "tx-1",
		SubjectID: "s1",
		Amount:    100,
		Currency:  "USD",
		Kind:      KindPayment,
		Timestamp: domTime,
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := validTx().Validate(); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*TransactionContext)
		want   error
	}{
		{"missing id", func(tx *TransactionContext) { tx.ID = "" }, ErrMissingTransactionID},
		{"missing subject", func(tx *TransactionContext) { tx.SubjectID = "" }, ErrMissingSubject},
		{"zero amount", func(tx *TransactionContext) { tx.Amount = 0 }, ErrNonPositiveAmount},
		{"negative amount", func(tx *TransactionContext) { tx.Amount = -5 }, ErrNonPositiveAmount},
		{"zero timestamp", func(tx *TransactionContext) { tx.Timestamp = time.Time{} }, ErrMissingTimestamp},
		{"unknown kind", func(tx *TransactionContext) { tx.Kind = "wire" }, ErrUnknownKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx := validTx()
			tc.mutate(tx)
			if err := tx.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestToContextFillsDefaults(t *testing.T) {
	req := &EvaluateRequest{
		SubjectID: "s1",
		Amount:    50,
		Kind:      KindPayment,
	}
	tx := req.ToContext(func() string { return "generated" })
	if tx.ID != "generated" {
		t.Errorf("expected generated id, got %q", tx.ID)
	}
	if tx.Timestamp.IsZero() {
		t.Errorf("expected server-filled timestamp")
	}

	ts := domTime
	req = &EvaluateRequest{TransactionID: "tx-given", SubjectID: "s1", Amount: 50, Kind: KindPayment, Timestamp: &ts}
	tx = req.ToContext(func() string { return "generated" })
	if tx.ID != "tx-given" {
		t.Errorf("caller-supplied id must win, got %q", tx.ID)
	}
	if !tx.Timestamp.Equal(domTime) {
		t.Errorf("caller-supplied timestamp must win, got %v", tx.Timestamp)
	}
}

func TestHistoryWindows(t *testing.T) {
	h := EmptyHistory("s1", domTime)
	h.Recent = []HistoryEntry{
		{ID: "t1", Amount: 100, Kind: KindDeposit, Timestamp: domTime.Add(-10 * time.Minute)},
		{ID: "t2", Amount: 200, Kind: KindWithdrawal, Timestamp: domTime.Add(-2 * time.Hour), Location: &Geolocation{Country: "US", Latitude: 40.7, Longitude: -74.0}},
		{ID: "t3", Amount: 300, Kind: KindDeposit, Timestamp: domTime.Add(-30 * time.Hour)},
	}

	if got := h.CountSince(domTime.Add(-time.Hour)); got != 1 {
		t.Errorf("CountSince: expected 1, got %d", got)
	}
	if got := h.VolumeSince(domTime.Add(-3 * time.Hour)); got != 300 {
		t.Errorf("VolumeSince: expected 300, got %.0f", got)
	}
	if got := h.VolumeByKindSince(KindDeposit, domTime.Add(-24*time.Hour)); got != 100 {
		t.Errorf("VolumeByKindSince: expected 100, got %.0f", got)
	}

	last := h.LastLocated()
	if last == nil || last.ID != "t2" {
		t.Errorf("LastLocated: expected t2, got %+v", last)
	}
}

func TestHistoryKnownIdentity(t *testing.T) {
	h := EmptyHistory("s1", domTime)
	h.KnownCountries["US"] = true
	h.KnownDevices["device-1"] = true

	if !h.KnowsCountry("US") || h.KnowsCountry("JP") {
		t.Errorf("country knowledge wrong")
	}
	if h.KnowsCountry("") {
		t.Errorf("empty country must never be known")
	}
	if !h.KnowsDevice("device-1") || h.KnowsDevice("device-2") {
		t.Errorf("device knowledge wrong")
	}
}

func TestEngineConfigValidate(t *testing.T) {
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}

	bad := DefaultEngineConfig()
	bad.Weights.Rules = 0.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for weights not summing to 1")
	}

	bad = DefaultEngineConfig()
	bad.Thresholds.Review = 90
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unordered thresholds")
	}

	bad = DefaultEngineConfig()
	bad.BlockProbability = 1.4
	if err := bad.Validate(); err == nil {
		t.Error("expected error for block probability above 1")
	}
}
