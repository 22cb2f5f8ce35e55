// Package repository provides durable transaction log implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLLog implements domain.TransactionLog using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLLog struct {
	db     *sql.DB
	driver string
}

// New creates a transaction log from configuration.
func New(cfg domain.RepositoryConfig) (domain.TransactionLog, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log := &SQLLog{
		db:     db,
		driver: cfg.Driver,
	}

	if err := log.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return log, nil
}

func (r *SQLLog) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Append records a decisioned transaction in the history log.
func (r *SQLLog) Append(ctx context.Context, tx *domain.TransactionContext, decision domain.Decision, status string) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	var country, region string
	var lat, lon sql.NullFloat64
	if tx.Location != nil {
		country = tx.Location.Country
		region = tx.Location.Region
		lat = sql.NullFloat64{Float64: tx.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: tx.Location.Longitude, Valid: true}
	}

	query := `
		INSERT INTO transactions (
			id, subject_id, account_id, destination_account_id,
			amount, currency, kind, timestamp,
			ip_address, client_id, country, region, latitude, longitude,
			device_fingerprint, session_id, decision, status, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.SubjectID, tx.AccountID, tx.DestinationAccountID,
		tx.Amount, tx.Currency, tx.Kind, tx.Timestamp,
		tx.IPAddress, tx.ClientID, country, region, lat, lon,
		tx.DeviceFingerprint, tx.SessionID, string(decision), status, string(metadata),
		time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves an appended transaction by ID.
func (r *SQLLog) GetTransaction(ctx context.Context, txID string) (*domain.TransactionContext, error) {
	query := `
		SELECT id, subject_id, account_id, destination_account_id,
			   amount, currency, kind, timestamp,
			   ip_address, client_id, country, region, latitude, longitude,
			   device_fingerprint, session_id, metadata
		FROM transactions
		WHERE id = ?
	`

	var tx domain.TransactionContext
	var country, region, metadata string
	var lat, lon sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.SubjectID, &tx.AccountID, &tx.DestinationAccountID,
		&tx.Amount, &tx.Currency, &tx.Kind, &tx.Timestamp,
		&tx.IPAddress, &tx.ClientID, &country, &region, &lat, &lon,
		&tx.DeviceFingerprint, &tx.SessionID, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if country != "" {
		tx.Location = &domain.Geolocation{
			Country:   country,
			Region:    region,
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
		}
	}
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// RecentBySubject returns a subject's transactions since the cutoff,
// most recent first.
func (r *SQLLog) RecentBySubject(ctx context.Context, subjectID string, since time.Time, limit int) ([]domain.HistoryEntry, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT id, amount, kind, timestamp, destination_account_id,
			   country, latitude, longitude, device_fingerprint, status
		FROM transactions
		WHERE subject_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subjectID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var lat, lon sql.NullFloat64

		if err := rows.Scan(
			&e.ID, &e.Amount, &e.Kind, &e.Timestamp, &e.DestinationAccountID,
			&e.Country, &lat, &lon, &e.DeviceFingerprint, &e.Status,
		); err != nil {
			return nil, err
		}

		if e.Country != "" && lat.Valid {
			e.Location = &domain.Geolocation{
				Country:   e.Country,
				Latitude:  lat.Float64,
				Longitude: lon.Float64,
			}
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Aggregates computes the rolling rollups for one subject. Windows are
// anchored to the caller-supplied now so backfilled evaluations see the
// history as of their own timestamp.
func (r *SQLLog) Aggregates(ctx context.Context, subjectID string, now time.Time) (*domain.HistoryAggregates, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID is required", ErrInvalidInput)
	}

	day := now.Add(-24 * time.Hour)
	week := now.Add(-7 * 24 * time.Hour)
	month := now.Add(-30 * 24 * time.Hour)

	agg := &domain.HistoryAggregates{}

	volQuery := `
		SELECT
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN amount ELSE 0 END), 0),
			COALESCE(SUM(amount), 0),
			COALESCE(AVG(amount), 0)
		FROM transactions
		WHERE subject_id = ? AND timestamp >= ? AND timestamp <= ? AND status = ?
	`
	err := r.db.QueryRowContext(ctx, r.rebind(volQuery),
		day, week, subjectID, month, now, domain.StatusCompleted,
	).Scan(&agg.DailyVolume, &agg.WeeklyVolume, &agg.MonthlyVolume, &agg.AverageAmount)
	if err != nil {
		return nil, err
	}

	agg.Countries, err = r.distinctValues(ctx, subjectID, "country", month, now)
	if err != nil {
		return nil, err
	}
	agg.Devices, err = r.distinctValues(ctx, subjectID, "device_fingerprint", month, now)
	if err != nil {
		return nil, err
	}

	failQuery := `
		SELECT COUNT(*) FROM transactions
		WHERE subject_id = ? AND timestamp >= ? AND timestamp <= ? AND status = ?
	`
	err = r.db.QueryRowContext(ctx, r.rebind(failQuery),
		subjectID, day, now, domain.StatusFailed,
	).Scan(&agg.RecentFailedCount)
	if err != nil {
		return nil, err
	}

	return agg, nil
}

func (r *SQLLog) distinctValues(ctx context.Context, subjectID, column string, since, until time.Time) ([]string, error) {
	// column is one of two fixed names, never caller input
	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM transactions
		WHERE subject_id = ? AND timestamp >= ? AND timestamp <= ? AND %s <> ''
	`, column, column)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subjectID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// SaveScore persists an evaluation result for the audit trail.
func (r *SQLLog) SaveScore(ctx context.Context, score *domain.FraudRiskScore) error {
	if score == nil || score.ID == "" {
		return fmt.Errorf("%w: score id is required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(score.Factors)
	reasons, _ := json.Marshal(score.Reasons)

	query := `
		INSERT INTO risk_scores (
			id, transaction_id, subject_id, overall_risk, fraud_probability,
			ml_unavailable, rule_score, behavior_score, velocity_score, account_risk,
			decision, confidence, requires_authentication, requires_manual_review,
			factors, reasons, evaluated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, score.TransactionID, score.SubjectID, score.OverallRisk, score.FraudProbability,
		boolInt(score.MLUnavailable), score.RuleScore, score.BehaviorScore, score.VelocityScore, score.AccountRisk,
		string(score.Decision), score.Confidence, boolInt(score.RequiresAuthentication), boolInt(score.RequiresManualReview),
		string(factors), string(reasons), score.EvaluatedAt,
	)
	return err
}

// GetScore retrieves a persisted evaluation by ID.
func (r *SQLLog) GetScore(ctx context.Context, scoreID string) (*domain.FraudRiskScore, error) {
	query := `
		SELECT id, transaction_id, subject_id, overall_risk, fraud_probability,
			   ml_unavailable, rule_score, behavior_score, velocity_score, account_risk,
			   decision, confidence, requires_authentication, requires_manual_review,
			   factors, reasons, evaluated_at
		FROM risk_scores
		WHERE id = ?
	`

	var s domain.FraudRiskScore
	var decision, factors, reasons string
	var mlUnavailable, reqAuth, reqReview int

	err := r.db.QueryRowContext(ctx, r.rebind(query), scoreID).Scan(
		&s.ID, &s.TransactionID, &s.SubjectID, &s.OverallRisk, &s.FraudProbability,
		&mlUnavailable, &s.RuleScore, &s.BehaviorScore, &s.VelocityScore, &s.AccountRisk,
		&decision, &s.Confidence, &reqAuth, &reqReview,
		&factors, &reasons, &s.EvaluatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Decision = domain.Decision(decision)
	s.MLUnavailable = mlUnavailable == 1
	s.RequiresAuthentication = reqAuth == 1
	s.RequiresManualReview = reqReview == 1
	json.Unmarshal([]byte(factors), &s.Factors)
	json.Unmarshal([]byte(reasons), &s.Reasons)

	return &s, nil
}

// SaveRuleScript upserts an expression rule.
func (r *SQLLog) SaveRuleScript(ctx context.Context, script *domain.RuleScript) error {
	if script == nil || script.ID == "" {
		return fmt.Errorf("%w: script id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_scripts (
			id, name, description, expression, weight, threshold, suggested_action, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			weight = excluded.weight,
			threshold = excluded.threshold,
			suggested_action = excluded.suggested_action,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		script.ID, script.Name, script.Description, script.Expression,
		script.Weight, script.Threshold, script.SuggestedAction, boolInt(script.Enabled),
		now, now,
	)
	return err
}

// GetRuleScript retrieves one expression rule by ID.
func (r *SQLLog) GetRuleScript(ctx context.Context, scriptID string) (*domain.RuleScript, error) {
	query := `
		SELECT id, name, description, expression, weight, threshold, suggested_action, enabled
		FROM rule_scripts
		WHERE id = ?
	`

	var s domain.RuleScript
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), scriptID).Scan(
		&s.ID, &s.Name, &s.Description, &s.Expression,
		&s.Weight, &s.Threshold, &s.SuggestedAction, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Enabled = enabled == 1
	return &s, nil
}

// ListRuleScripts returns all enabled expression rules.
func (r *SQLLog) ListRuleScripts(ctx context.Context) ([]*domain.RuleScript, error) {
	query := `
		SELECT id, name, description, expression, weight, threshold, suggested_action, enabled
		FROM rule_scripts
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scripts []*domain.RuleScript
	for rows.Next() {
		var s domain.RuleScript
		var enabled int

		if err := rows.Scan(
			&s.ID, &s.Name, &s.Description, &s.Expression,
			&s.Weight, &s.Threshold, &s.SuggestedAction, &enabled,
		); err != nil {
			return nil, err
		}

		s.Enabled = enabled == 1
		scripts = append(scripts, &s)
	}

	return scripts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLLog) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLLog) Close() error {
	return r.db.Close()
}

func (r *SQLLog) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
