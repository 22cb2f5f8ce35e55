// Package audit persists evaluation results for the compliance trail.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LogWriter writes every FraudRiskScore to the transaction log's audit
// table. Writes are fire-and-forget: an audit failure is logged and
// never propagates into the evaluation that produced the score.
type LogWriter struct {
	log     domain.TransactionLog
	timeout time.Duration
}

// NewLogWriter creates an audit writer over the transaction log.
func NewLogWriter(log domain.TransactionLog) *LogWriter {
	return &LogWriter{
		log:     log,
		timeout: 5 * time.Second,
	}
}

// LogScore implements domain.AuditLogger. The write detaches from the
// caller's context so a finished evaluation does not cancel its own
// audit record.
func (w *LogWriter) LogScore(ctx context.Context, score *domain.FraudRiskScore) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	if err := w.log.SaveScore(writeCtx, score); err != nil {
		slog.Error("audit write failed",
			"score_id", score.ID,
			"transaction_id", score.TransactionID,
			"error", err,
		)
	}
}

// Nop discards audit records. Test helper.
type Nop struct{}

// LogScore implements domain.AuditLogger.
func (Nop) LogScore(context.Context, *domain.FraudRiskScore) {}
