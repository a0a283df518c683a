package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration. All defaults are
// resolved here, once, before the pipeline starts; scoring code never
// probes for missing optional fields.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines backing services
	Tier Tier `json:"tier"`

	// Model settings
	Model ModelConfig `json:"model"`

	// Scoring thresholds and fusion weights
	Scoring ScoringConfig `json:"scoring"`

	// Velocity rule checks
	Velocity VelocityConfig `json:"velocity"`

	// Operator-defined CEL checks
	CustomChecks []CustomCheckConfig `json:"customChecks,omitempty"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Maintenance and retraining
	Maintenance MaintenanceConfig `json:"maintenance"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// RateLimitPerMinute caps check requests per client; 0 disables.
	RateLimitPerMinute int `json:"rateLimitPerMinute"`
}

// ModelConfig holds predictor settings.
type ModelConfig struct {
	// Dir is the model directory containing model_config.json,
	// scaler_params.json and weights.json.
	Dir string `json:"dir"`

	// Timezone names the location used for calendar feature derivation
	// ("Local", "UTC" or an IANA name). Behavioral patterns like
	// late-night spending are local-clock phenomena, so "Local" is the
	// default, but deployments spanning zones should pin one.
	Timezone string `json:"timezone"`
}

// ScoringConfig holds thresholds and fusion weights.
type ScoringConfig struct {
	// ReviewThreshold and RejectThreshold partition [0,1] into the
	// low/medium/high tiers. Must satisfy 0 <= review < reject <= 1.
	ReviewThreshold float64 `json:"reviewThreshold"`
	RejectThreshold float64 `json:"rejectThreshold"`

	// Fusion weights for model and velocity scores.
	ModelWeight    float64 `json:"modelWeight"`
	VelocityWeight float64 `json:"velocityWeight"`

	// ContextAdjustments enables the wallet/IP/device heuristic deltas.
	ContextAdjustments bool `json:"contextAdjustments"`
}

// VelocityConfig holds the rule check configuration.
type VelocityConfig struct {
	// Enabled gates the whole velocity path; when false the final score
	// is exactly the model score.
	Enabled bool `json:"enabled"`

	Frequency FrequencyCheckConfig `json:"frequency"`
	Amount    AmountCheckConfig    `json:"amount"`
	FailedTx  FailedCheckConfig    `json:"failedTransactions"`

	// MaxConcurrent bounds check fan-out.
	MaxConcurrent int `json:"maxConcurrent"`
}

// TimeWindow configures one sliding window for the frequency check.
type TimeWindow struct {
	PeriodMinutes   int     `json:"periodMinutes"`
	MaxTransactions int     `json:"maxTransactions"` // 0 means DefaultMaxTransactions
	ScoreAdjustment float64 `json:"scoreAdjustment"`
}

// AmountWindow configures one sliding window for the amount check.
type AmountWindow struct {
	PeriodMinutes   int     `json:"periodMinutes"`
	MaxAmount       float64 `json:"maxAmount"` // 0 means DefaultMaxAmount
	ScoreAdjustment float64 `json:"scoreAdjustment"`
}

// FailedWindow configures one sliding window for the failed-transaction check.
type FailedWindow struct {
	PeriodMinutes   int     `json:"periodMinutes"`
	MaxFailed       int     `json:"maxFailed"` // 0 means DefaultMaxFailed
	ScoreAdjustment float64 `json:"scoreAdjustment"`
}

// FrequencyCheckConfig configures the frequency check.
type FrequencyCheckConfig struct {
	Enabled bool         `json:"enabled"`
	Windows []TimeWindow `json:"windows"`
}

// AmountCheckConfig configures the amount check and its spike sub-check.
type AmountCheckConfig struct {
	Enabled bool           `json:"enabled"`
	Windows []AmountWindow `json:"windows"`
	Spike   SpikeConfig    `json:"spike"`
}

// SpikeConfig configures the daily-spend spike sub-check.
type SpikeConfig struct {
	Enabled bool `json:"enabled"`

	// MinHistoryDays skips the check for customers younger than this,
	// who have no baseline to compare against.
	MinHistoryDays int `json:"minHistoryDays"`

	// LookbackDays is the baseline window for average daily spend.
	LookbackDays int `json:"lookbackDays"`

	// Multiplier is the today/average ratio that triggers the penalty.
	Multiplier float64 `json:"multiplier"`

	ScoreAdjustment float64 `json:"scoreAdjustment"`
}

// FailedCheckConfig configures the failed-transaction check.
type FailedCheckConfig struct {
	Enabled bool           `json:"enabled"`
	Windows []FailedWindow `json:"windows"`
}

// CustomCheckConfig defines an operator-supplied CEL check. The
// expression must evaluate to bool; a true result contributes
// ScoreAdjustment to the velocity aggregation.
type CustomCheckConfig struct {
	ID              string  `json:"id"`
	Expression      string  `json:"expression"`
	Reason          string  `json:"reason"`
	ScoreAdjustment float64 `json:"scoreAdjustment"`
	Enabled         bool    `json:"enabled"`
}

// MaintenanceConfig configures the periodic maintenance runner.
type MaintenanceConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"intervalMinutes"`

	// RetentionDays bounds the behavioral history; 0 keeps everything.
	RetentionDays int `json:"retentionDays"`

	// Retraining triggers once at least MinFeedback labels exist.
	RetrainEnabled bool   `json:"retrainEnabled"`
	MinFeedback    int    `json:"minFeedback"`
	TrainerScript  string `json:"trainerScript"`
	TrainerOutDir  string `json:"trainerOutDir"`
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

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// Default ceilings applied when a window omits an explicit limit.
const (
	DefaultMaxTransactions = 50
	DefaultMaxAmount       = 10000.0
	DefaultMaxFailed       = 5
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30,
			WriteTimeout:       30,
			RateLimitPerMinute: 0,
		},
		Tier: TierCommunity,
		Model: ModelConfig{
			Dir:      "./model",
			Timezone: "Local",
		},
		Scoring: ScoringConfig{
			ReviewThreshold:    0.4,
			RejectThreshold:    0.7,
			ModelWeight:        0.7,
			VelocityWeight:     0.3,
			ContextAdjustments: true,
		},
		Velocity: VelocityConfig{
			Enabled: true,
			Frequency: FrequencyCheckConfig{
				Enabled: true,
				Windows: []TimeWindow{
					{PeriodMinutes: 10, MaxTransactions: 5, ScoreAdjustment: 0.2},
					{PeriodMinutes: 60, MaxTransactions: 15, ScoreAdjustment: 0.3},
				},
			},
			Amount: AmountCheckConfig{
				Enabled: true,
				Windows: []AmountWindow{
					{PeriodMinutes: 60, MaxAmount: 5000, ScoreAdjustment: 0.25},
					{PeriodMinutes: 1440, MaxAmount: 20000, ScoreAdjustment: 0.35},
				},
				Spike: SpikeConfig{
					Enabled:         true,
					MinHistoryDays:  7,
					LookbackDays:    30,
					Multiplier:      5,
					ScoreAdjustment: 0.3,
				},
			},
			FailedTx: FailedCheckConfig{
				Enabled: true,
				Windows: []FailedWindow{
					{PeriodMinutes: 60, MaxFailed: 3, ScoreAdjustment: 0.4},
				},
			},
			MaxConcurrent: 8,
		},
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
		Maintenance: MaintenanceConfig{
			Enabled:         false,
			IntervalMinutes: 60,
			RetentionDays:   90,
			RetrainEnabled:  false,
			MinFeedback:     100,
			TrainerScript:   "./scripts/retrain_model.py",
			TrainerOutDir:   "./model-candidate",
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

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
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

// Validate checks the configuration once at startup. Threshold ordering
// is enforced here and never re-checked per call.
func (c *Config) Validate() error {
	s := c.Scoring
	if s.ReviewThreshold < 0 || s.RejectThreshold > 1 || s.ReviewThreshold >= s.RejectThreshold {
		return fmt.Errorf("scoring: thresholds must satisfy 0 <= review < reject <= 1, got review=%v reject=%v",
			s.ReviewThreshold, s.RejectThreshold)
	}
	if s.ModelWeight < 0 || s.VelocityWeight < 0 {
		return fmt.Errorf("scoring: fusion weights must be non-negative")
	}
	if c.Model.Dir == "" {
		return fmt.Errorf("model: dir is required")
	}
	if _, err := c.Model.Location(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	for _, w := range c.Velocity.Frequency.Windows {
		if w.PeriodMinutes <= 0 {
			return fmt.Errorf("velocity: frequency window period must be positive")
		}
		if w.ScoreAdjustment < 0 || w.ScoreAdjustment > 1 {
			return fmt.Errorf("velocity: frequency score adjustment must be in [0,1]")
		}
	}
	for _, w := range c.Velocity.Amount.Windows {
		if w.PeriodMinutes <= 0 {
			return fmt.Errorf("velocity: amount window period must be positive")
		}
		if w.ScoreAdjustment < 0 || w.ScoreAdjustment > 1 {
			return fmt.Errorf("velocity: amount score adjustment must be in [0,1]")
		}
	}
	for _, w := range c.Velocity.FailedTx.Windows {
		if w.PeriodMinutes <= 0 {
			return fmt.Errorf("velocity: failed window period must be positive")
		}
		if w.ScoreAdjustment < 0 || w.ScoreAdjustment > 1 {
			return fmt.Errorf("velocity: failed score adjustment must be in [0,1]")
		}
	}
	sp := c.Velocity.Amount.Spike
	if sp.Enabled && sp.Multiplier <= 1 {
		return fmt.Errorf("velocity: spike multiplier must exceed 1")
	}
	for _, cc := range c.CustomChecks {
		if cc.Enabled && cc.Expression == "" {
			return fmt.Errorf("custom check %q: expression is required", cc.ID)
		}
	}
	return nil
}

// Location resolves the configured feature timezone.
func (m ModelConfig) Location() (*time.Location, error) {
	switch m.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	default:
		return time.LoadLocation(m.Timezone)
	}
}
