package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func dupTx(subject, dest string, amount float64, ts time.Time) *domain.TransactionContext {
	return &domain.TransactionContext{
		ID:                   "tx-" + subject,
		SubjectID:            subject,
		DestinationAccountID: dest,
		Amount:               amount,
		Currency:             "USD",
		Kind:                 domain.KindTransfer,
		Timestamp:            ts,
	}
}

func TestFirstSubmissionPasses(t *testing.T) {
	d := NewDetector(cache.NewLRUCache(100), 24*time.Hour, time.Minute)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC)
	dup, err := d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts))
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if dup {
		t.Error("first submission must not be a duplicate")
	}
}

func TestExactRepeatBlocked(t *testing.T) {
	d := NewDetector(cache.NewLRUCache(100), 24*time.Hour, time.Minute)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC)
	d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts))

	// Same subject, destination, amount, same minute bucket.
	dup, err := d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts.Add(10*time.Second)))
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if !dup {
		t.Error("exact repeat within the bucket must be a duplicate")
	}
}

func TestDifferentAmountPasses(t *testing.T) {
	d := NewDetector(cache.NewLRUCache(100), 24*time.Hour, time.Minute)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC)
	d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts))

	dup, _ := d.IsDuplicate(ctx, dupTx("s1", "d1", 100.01, ts))
	if dup {
		t.Error("different amount must not be a duplicate")
	}
}

func TestDifferentSubjectPasses(t *testing.T) {
	d := NewDetector(cache.NewLRUCache(100), 24*time.Hour, time.Minute)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC)
	d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts))

	dup, _ := d.IsDuplicate(ctx, dupTx("s2", "d1", 100, ts))
	if dup {
		t.Error("different subject must not be a duplicate")
	}
}

func TestDifferentBucketPasses(t *testing.T) {
	d := NewDetector(cache.NewLRUCache(100), 24*time.Hour, time.Minute)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC)
	d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts))

	// Next minute bucket is a fresh fingerprint.
	dup, _ := d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts.Add(time.Minute)))
	if dup {
		t.Error("next time bucket must not be a duplicate")
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	d := NewDetector(cache.NewLRUCache(100), 24*time.Hour, time.Minute)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 12, 0, 30, 0, time.UTC)

	const n = 16
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			dup, err := d.IsDuplicate(ctx, dupTx("s1", "d1", 100, ts))
			if err != nil {
				t.Errorf("IsDuplicate failed: %v", err)
			}
			results <- dup
		}()
	}

	passed := 0
	for i := 0; i < n; i++ {
		if !<-results {
			passed++
		}
	}

	// The atomic set-if-absent admits exactly one of the racers.
	if passed != 1 {
		t.Errorf("expected exactly 1 submission to pass, got %d", passed)
	}
}
