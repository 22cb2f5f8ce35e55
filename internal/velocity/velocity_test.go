package velocity

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var refTime = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func velocityTx() *domain.TransactionContext {
	return &domain.TransactionContext{
		ID:        "tx-001",
		SubjectID: "subject-001",
		Amount:    100,
		Currency:  "USD",
		Kind:      domain.KindPayment,
		Timestamp: refTime,
	}
}

func recentEntries(n int, amount float64, spacing time.Duration) []domain.HistoryEntry {
	entries := make([]domain.HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, domain.HistoryEntry{
			ID:        "prev",
			Amount:    amount,
			Kind:      domain.KindPayment,
			Timestamp: refTime.Add(-time.Duration(i+1) * spacing),
			Status:    domain.StatusCompleted,
		})
	}
	return entries
}

func TestQuietHistory(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	score, sigs := a.Evaluate(velocityTx(), h)
	if score != 0 {
		t.Errorf("expected 0 for empty history, got %.2f", score)
	}
	if len(sigs) != 0 {
		t.Errorf("expected no signals, got %v", sigs)
	}
}

func TestHourlyBurst(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	h.Recent = recentEntries(12, 10, 4*time.Minute)

	score, sigs := a.Evaluate(velocityTx(), h)
	if len(sigs) == 0 || sigs[0].Name != "hourly_burst" {
		t.Fatalf("expected hourly_burst, got %v", sigs)
	}
	if score < hourlyBurstPoints {
		t.Errorf("expected at least %d, got %.2f", hourlyBurstPoints, score)
	}
}

func TestHourlyElevated(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	h.Recent = recentEntries(6, 10, 8*time.Minute)

	_, sigs := a.Evaluate(velocityTx(), h)

	found := false
	for _, s := range sigs {
		if s.Name == "hourly_elevated" {
			found = true
		}
		if s.Name == "hourly_burst" {
			t.Error("elevated rate must not count as a burst")
		}
	}
	if !found {
		t.Errorf("expected hourly_elevated, got %v", sigs)
	}
}

func TestDailyShare(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	h.DailyVolume = 5000
	h.MonthlyVolume = 10000 // today is half the month

	score, sigs := a.Evaluate(velocityTx(), h)
	if len(sigs) != 1 || sigs[0].Name != "daily_share" {
		t.Fatalf("expected daily_share only, got %v", sigs)
	}
	if score != dailySharePoints {
		t.Errorf("expected %d, got %.2f", dailySharePoints, score)
	}
}

func TestFailedAttempts(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	h.RecentFailedCount = 5

	score, sigs := a.Evaluate(velocityTx(), h)
	if len(sigs) != 1 || sigs[0].Name != "failed_attempts" {
		t.Fatalf("expected failed_attempts only, got %v", sigs)
	}
	if score != failedAttemptsPoints {
		t.Errorf("expected %d, got %.2f", failedAttemptsPoints, score)
	}
}

func TestHourlyVolumeShare(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	h.DailyVolume = 1000
	// One transaction 30 minutes ago carrying most of the day's volume.
	h.Recent = []domain.HistoryEntry{{
		ID:        "prev",
		Amount:    800,
		Kind:      domain.KindPayment,
		Timestamp: refTime.Add(-30 * time.Minute),
		Status:    domain.StatusCompleted,
	}}

	_, sigs := a.Evaluate(velocityTx(), h)
	found := false
	for _, s := range sigs {
		if s.Name == "hourly_volume" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected hourly_volume, got %v", sigs)
	}
}

func TestVelocityScoreCapped(t *testing.T) {
	a := NewAnalyzer()

	h := domain.EmptyHistory("subject-001", refTime)
	h.Recent = recentEntries(15, 500, 3*time.Minute)
	h.DailyVolume = 5000
	h.MonthlyVolume = 6000
	h.RecentFailedCount = 10

	score, _ := a.Evaluate(velocityTx(), h)
	if score != 100 {
		t.Errorf("stacked signals should cap at 100, got %.2f", score)
	}
}
