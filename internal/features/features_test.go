package features

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var featTime = time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)

func featTx() *domain.TransactionContext {
	return &domain.TransactionContext{
		ID:        "tx-001",
		SubjectID: "subject-001",
		Amount:    250,
		Currency:  "USD",
		Kind:      domain.KindTransfer,
		Timestamp: featTime,
	}
}

func featHistory() *domain.TransactionHistory {
	return &domain.TransactionHistory{
		SubjectID:      "subject-001",
		AverageAmount:  100,
		DailyVolume:    500,
		MonthlyVolume:  8000,
		KnownCountries: map[string]bool{"US": true},
		KnownDevices:   map[string]bool{"device-1": true},
		SnapshotAt:     featTime,
	}
}

func TestBuildBounds(t *testing.T) {
	tx := featTx()
	tx.Amount = 5_000_000_000 // absurd, must still normalize
	tx.DeviceFingerprint = "device-unknown"
	tx.Location = &domain.Geolocation{Country: "BR"}

	h := featHistory()
	h.RecentFailedCount = 50

	f := Build(tx, h)
	for i, v := range f.Values() {
		if v < 0 || v > 1 {
			t.Errorf("feature %d out of [0,1]: %f", i, v)
		}
	}
	if f.Version != domain.FeatureVersion {
		t.Errorf("expected version %s, got %s", domain.FeatureVersion, f.Version)
	}
}

func TestKindOneHot(t *testing.T) {
	for kind, pick := range map[string]func(*domain.FeatureVector) float64{
		domain.KindPayment:    func(f *domain.FeatureVector) float64 { return f.IsPayment },
		domain.KindTransfer:   func(f *domain.FeatureVector) float64 { return f.IsTransfer },
		domain.KindWithdrawal: func(f *domain.FeatureVector) float64 { return f.IsWithdrawal },
		domain.KindDeposit:    func(f *domain.FeatureVector) float64 { return f.IsDeposit },
	} {
		tx := featTx()
		tx.Kind = kind
		f := Build(tx, featHistory())

		if pick(f) != 1 {
			t.Errorf("kind %s not encoded", kind)
		}
		if f.IsPayment+f.IsTransfer+f.IsWithdrawal+f.IsDeposit != 1 {
			t.Errorf("kind %s: one-hot fields must sum to 1", kind)
		}
	}
}

func TestNoveltyFlags(t *testing.T) {
	tx := featTx()
	tx.DeviceFingerprint = "device-1"
	tx.Location = &domain.Geolocation{Country: "US"}

	f := Build(tx, featHistory())
	if f.NewDevice != 0 || f.NewCountry != 0 {
		t.Error("known device and country must not flag as new")
	}

	tx.DeviceFingerprint = "device-other"
	tx.Location = &domain.Geolocation{Country: "JP"}

	f = Build(tx, featHistory())
	if f.NewDevice != 1 || f.NewCountry != 1 {
		t.Error("unknown device and country must flag as new")
	}
}

func TestAmountMonotonic(t *testing.T) {
	h := featHistory()

	prev := -1.0
	for _, amount := range []float64{10, 100, 1000, 10000, 100000} {
		tx := featTx()
		tx.Amount = amount
		f := Build(tx, h)
		if f.AmountNorm < prev {
			t.Errorf("amount normalization must be monotonic, %f after %f", f.AmountNorm, prev)
		}
		prev = f.AmountNorm
	}
}

func TestStubScorerDeterministic(t *testing.T) {
	s := NewStubScorer()

	f := Build(featTx(), featHistory())
	p1, err := s.Score(context.Background(), f)
	if err != nil {
		t.Fatalf("stub scorer failed: %v", err)
	}
	p2, _ := s.Score(context.Background(), f)

	if p1 != p2 {
		t.Errorf("stub scorer must be deterministic: %f vs %f", p1, p2)
	}
	if p1 < 0 || p1 > 1 {
		t.Errorf("probability out of range: %f", p1)
	}
}

func TestHTTPScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"probability":0.42}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second)
	p, err := s.Score(context.Background(), Build(featTx(), featHistory()))
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if p != 0.42 {
		t.Errorf("expected 0.42, got %f", p)
	}
}

func TestHTTPScorerRejectsOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"probability":1.7}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second)
	if _, err := s.Score(context.Background(), Build(featTx(), featHistory())); err == nil {
		t.Error("expected error for probability outside [0,1]")
	}
}

func TestHTTPScorerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL, time.Second)
	if _, err := s.Score(context.Background(), Build(featTx(), featHistory())); err == nil {
		t.Error("expected error for 500 response")
	}
}
