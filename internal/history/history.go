// Package history supplies per-subject activity snapshots to the
// analyzers, caching aggregation results briefly to bound repository
// load without forcing recomputation on every call.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store builds TransactionHistory snapshots from the durable log,
// fronted by a short-TTL cache. Snapshots are never mutated after
// construction; every evaluation gets its own copy of the aggregates.
type Store struct {
	log   domain.TransactionLog
	cache domain.Cache
	ttl   time.Duration
	limit int
}

// NewStore creates a history store.
func NewStore(log domain.TransactionLog, cache domain.Cache, ttl time.Duration, limit int) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if limit <= 0 {
		limit = 200
	}
	return &Store{
		log:   log,
		cache: cache,
		ttl:   ttl,
		limit: limit,
	}
}

// GetHistory returns the subject's snapshot as of now, from cache when
// fresh. Cache errors degrade to a miss; only the repository query can
// fail the call.
func (s *Store) GetHistory(ctx context.Context, subjectID string, now time.Time) (*domain.TransactionHistory, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subjectID is required")
	}

	key := cacheKey(subjectID)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("history cache read failed", "subject_id", subjectID, "error", err)
		} else if cached != nil {
			var h domain.TransactionHistory
			if err := json.Unmarshal(cached, &h); err == nil {
				return &h, nil
			}
		}
	}

	h, err := s.aggregate(ctx, subjectID, now)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(h); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Warn("history cache write failed", "subject_id", subjectID, "error", err)
			}
		}
	}

	return h, nil
}

// aggregate runs the repository queries and assembles the snapshot.
func (s *Store) aggregate(ctx context.Context, subjectID string, now time.Time) (*domain.TransactionHistory, error) {
	month := now.Add(-30 * 24 * time.Hour)

	recent, err := s.log.RecentBySubject(ctx, subjectID, month, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent transactions: %w", err)
	}

	agg, err := s.log.Aggregates(ctx, subjectID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregates: %w", err)
	}

	h := domain.EmptyHistory(subjectID, now)
	h.Recent = recent
	h.DailyVolume = agg.DailyVolume
	h.WeeklyVolume = agg.WeeklyVolume
	h.MonthlyVolume = agg.MonthlyVolume
	h.AverageAmount = agg.AverageAmount
	h.RecentFailedCount = agg.RecentFailedCount

	for _, c := range agg.Countries {
		h.KnownCountries[c] = true
	}
	for _, d := range agg.Devices {
		h.KnownDevices[d] = true
	}

	return h, nil
}

// Record appends a decisioned transaction to the durable log and
// invalidates the subject's cached snapshot so the outcome feeds the
// next evaluation.
func (s *Store) Record(ctx context.Context, tx *domain.TransactionContext, decision domain.Decision, status string) error {
	if err := s.log.Append(ctx, tx, decision, status); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	s.Invalidate(ctx, tx.SubjectID)
	return nil
}

// Invalidate drops the subject's cached snapshot.
func (s *Store) Invalidate(ctx context.Context, subjectID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(subjectID)); err != nil {
		slog.Warn("history cache invalidation failed", "subject_id", subjectID, "error", err)
	}
}

func cacheKey(subjectID string) string {
	return "history:" + subjectID
}
