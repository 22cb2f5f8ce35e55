package domain

import (
	"context"
	"time"
)

// HistoryAggregates are the pre-computed rollups the repository derives
// for one subject in a single query pass.
type HistoryAggregates struct {
	DailyVolume       float64
	WeeklyVolume      float64
	MonthlyVolume     float64
	AverageAmount     float64
	Countries         []string
	Devices           []string
	RecentFailedCount int
}

// TransactionLog is the durable transaction history behind the engine.
// The engine has no compile-time dependency on any specific datastore;
// implementations live in internal/repository.
type TransactionLog interface {
	// Append records a transaction outcome after decisioning.
	Append(ctx context.Context, tx *TransactionContext, decision Decision, status string) error

	// GetTransaction retrieves an appended transaction by ID.
	GetTransaction(ctx context.Context, txID string) (*TransactionContext, error)

	// RecentBySubject returns the subject's transactions at or after
	// since, most recent first, bounded by limit.
	RecentBySubject(ctx context.Context, subjectID string, since time.Time, limit int) ([]HistoryEntry, error)

	// Aggregates computes the rolling volume and identity rollups for a
	// subject relative to now.
	Aggregates(ctx context.Context, subjectID string, now time.Time) (*HistoryAggregates, error)

	// Evaluation audit trail
	SaveScore(ctx context.Context, score *FraudRiskScore) error
	GetScore(ctx context.Context, scoreID string) (*FraudRiskScore, error)

	// Expression rule persistence
	SaveRuleScript(ctx context.Context, script *RuleScript) error
	GetRuleScript(ctx context.Context, scriptID string) (*RuleScript, error)
	ListRuleScripts(ctx context.Context) ([]*RuleScript, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
