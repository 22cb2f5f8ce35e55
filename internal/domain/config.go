package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	Engine EngineConfig `json:"engine"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// FusionWeights are the per-source weights used when fusing sub-scores.
// They must sum to 1.0.
type FusionWeights struct {
	ML          float64 `json:"ml"`
	Rules       float64 `json:"rules"`
	Behavior    float64 `json:"behavior"`
	Velocity    float64 `json:"velocity"`
	AccountRisk float64 `json:"accountRisk"`
}

// Sum returns the total of all weights.
func (w FusionWeights) Sum() float64 {
	return w.ML + w.Rules + w.Behavior + w.Velocity + w.AccountRisk
}

// DecisionThresholds map overall risk to a decision band.
type DecisionThresholds struct {
	Block     int `json:"block"`     // overallRisk >= Block -> block
	Review    int `json:"review"`    // overallRisk >= Review -> review
	Challenge int `json:"challenge"` // overallRisk >= Challenge -> challenge
}

// EngineConfig tunes the orchestrator. The defaults mirror production
// settings but every knob is configuration, not a constant.
type EngineConfig struct {
	Weights    FusionWeights      `json:"weights"`
	Thresholds DecisionThresholds `json:"thresholds"`

	// BlockProbability is the ML fraud probability above which the
	// transaction is blocked regardless of the fused score.
	BlockProbability float64 `json:"blockProbability"`

	// ScorerTimeout bounds the external risk score provider call.
	ScorerTimeout time.Duration `json:"scorerTimeout"`

	// DedupWindow is the retention of duplicate fingerprints.
	DedupWindow time.Duration `json:"dedupWindow"`
	// DedupBucket is the coarse time-bucket granularity for fingerprints.
	DedupBucket time.Duration `json:"dedupBucket"`

	// HistoryTTL bounds staleness of cached history snapshots.
	HistoryTTL time.Duration `json:"historyTTL"`
	// HistoryLimit bounds the recent-transaction list per snapshot.
	HistoryLimit int `json:"historyLimit"`

	// ReasonFloor is the factor score above which a factor is written
	// into the human-readable reasons.
	ReasonFloor float64 `json:"reasonFloor"`
}

// Validate rejects engine configurations that would skew fusion.
func (c EngineConfig) Validate() error {
	if math.Abs(c.Weights.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %.4f", c.Weights.Sum())
	}
	if c.Thresholds.Block <= c.Thresholds.Review || c.Thresholds.Review <= c.Thresholds.Challenge {
		return fmt.Errorf("decision thresholds must be ordered block > review > challenge")
	}
	if c.BlockProbability <= 0 || c.BlockProbability > 1 {
		return fmt.Errorf("block probability must be in (0,1], got %.2f", c.BlockProbability)
	}
	return nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// DefaultEngineConfig returns the tuned production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights: FusionWeights{
			ML:          0.30,
			Rules:       0.25,
			Behavior:    0.20,
			Velocity:    0.15,
			AccountRisk: 0.10,
		},
		Thresholds: DecisionThresholds{
			Block:     85,
			Review:    60,
			Challenge: 40,
		},
		BlockProbability: 0.7,
		ScorerTimeout:    500 * time.Millisecond,
		DedupWindow:      24 * time.Hour,
		DedupBucket:      time.Minute,
		HistoryTTL:       5 * time.Minute,
		HistoryLimit:     200,
		ReasonFloor:      60,
	}
}

// DefaultConfig returns the single-node default: SQLite, in-process
// LRU cache, channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ClusterConfig returns the multi-node configuration: PostgreSQL,
// two-phase Redis cache, NATS event bus.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
