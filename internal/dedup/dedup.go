// Package dedup rejects exact transaction repeats within a short window.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Detector fingerprints incoming transactions and remembers them in a
// short-TTL store, so retries and double-clicks do not score twice.
type Detector struct {
	cache  domain.Cache
	window time.Duration
	bucket time.Duration
}

// NewDetector creates a duplicate detector over the shared cache.
func NewDetector(cache domain.Cache, window, bucket time.Duration) *Detector {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &Detector{
		cache:  cache,
		window: window,
		bucket: bucket,
	}
}

// IsDuplicate reports whether an identical transaction was already
// seen inside the window, recording the fingerprint when it was not.
// The claim uses the cache's atomic set-if-absent, so two concurrent
// identical submissions cannot both pass.
func (d *Detector) IsDuplicate(ctx context.Context, tx *domain.TransactionContext) (bool, error) {
	key := d.fingerprint(tx)

	claimed, err := d.cache.SetIfAbsent(ctx, key, []byte(tx.ID), d.window)
	if err != nil {
		return false, fmt.Errorf("dedup store unavailable: %w", err)
	}

	return !claimed, nil
}

// fingerprint hashes subject, destination, amount and a coarse time
// bucket. The bucket granularity means the same payment resubmitted
// within the same minute collapses to one fingerprint; distinct
// legitimate payments a few minutes apart do not.
func (d *Detector) fingerprint(tx *domain.TransactionContext) string {
	bucket := tx.Timestamp.Truncate(d.bucket).Unix()
	raw := fmt.Sprintf("%s|%s|%.2f|%d", tx.SubjectID, tx.DestinationAccountID, tx.Amount, bucket)
	sum := sha256.Sum256([]byte(raw))
	return "dedup:" + hex.EncodeToString(sum[:])
}
