package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Hermes      HermesConfig      `yaml:"hermes"`
	Backend     BackendConfig     `yaml:"backend"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Objective   ObjectiveConfig   `yaml:"objective"`
	Abnormality AbnormalityConfig `yaml:"abnormality"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

// BackendConfig points at the scheduling backend snapshots come from and
// recommendations go to.
type BackendConfig struct {
	URL            string  `yaml:"url"`
	User           string  `yaml:"user"`
	Password       string  `yaml:"password"`
	TimeoutMs      int     `yaml:"timeout_ms"`
	DistanceCutoff float64 `yaml:"distance_cutoff"`
}

type CycleConfig struct {
	TickIntervalMs   int     `yaml:"tick_interval_ms"`
	SolveTimeoutMs   int     `yaml:"solve_timeout_ms"`
	MaxNodes         int64   `yaml:"max_nodes"`
	RelativeGap      float64 `yaml:"relative_gap"`
	Iterations       int     `yaml:"iterations"`
	Ratchet          float64 `yaml:"ratchet"`
	PreserveCoverage bool    `yaml:"preserve_coverage"`
	SkipUnchanged    bool    `yaml:"skip_unchanged"`
}

type ObjectiveConfig struct {
	Weights ObjectiveWeights `yaml:"weights"`
}

type ObjectiveWeights struct {
	Unassigned                float64 `yaml:"unassigned"`
	TravelTime                float64 `yaml:"travel_time"`
	TimeWindow                float64 `yaml:"time_window"`
	Priority                  float64 `yaml:"priority"`
	Abnormality               float64 `yaml:"abnormality"`
	ClientExperience          float64 `yaml:"client_experience"`
	SchoolExperience          float64 `yaml:"school_experience"`
	ShortTermClientExperience float64 `yaml:"short_term_client_experience"`
}

type AbnormalityConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Required  bool   `yaml:"required"`
	ModelPath string `yaml:"model_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Cycle.TickIntervalMs) * time.Millisecond
}

func (c *Config) SolveTimeout() time.Duration {
	return time.Duration(c.Cycle.SolveTimeoutMs) * time.Millisecond
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutMs) * time.Millisecond
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Backend: BackendConfig{
			URL:            "http://localhost:8080",
			TimeoutMs:      10000,
			DistanceCutoff: 60000,
		},
		Cycle: CycleConfig{
			TickIntervalMs:   60000,
			SolveTimeoutMs:   30000,
			RelativeGap:      0.01,
			Iterations:       3,
			Ratchet:          0.10,
			PreserveCoverage: true,
			SkipUnchanged:    true,
		},
		Objective: ObjectiveConfig{
			Weights: ObjectiveWeights{
				Unassigned:                5,
				TravelTime:                2,
				TimeWindow:                1,
				Priority:                  3,
				Abnormality:               1,
				ClientExperience:          1,
				SchoolExperience:          1,
				ShortTermClientExperience: 1,
			},
		},
		Abnormality: AbnormalityConfig{
			Enabled:   true,
			Required:  false,
			ModelPath: "models/abnormality.zst",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a .env file into the process
// environment. A missing file is not an error. Existing variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	w := c.Objective.Weights
	for name, v := range map[string]float64{
		"unassigned":                   w.Unassigned,
		"travel_time":                  w.TravelTime,
		"time_window":                  w.TimeWindow,
		"priority":                     w.Priority,
		"abnormality":                  w.Abnormality,
		"client_experience":            w.ClientExperience,
		"school_experience":            w.SchoolExperience,
		"short_term_client_experience": w.ShortTermClientExperience,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			errs = append(errs, fmt.Errorf("objective weight %s must be finite and non-negative", name))
		}
	}
	if c.Cycle.Iterations < 1 {
		errs = append(errs, errors.New("cycle.iterations must be at least 1"))
	}
	if c.Cycle.Ratchet < 0 || math.IsNaN(c.Cycle.Ratchet) {
		errs = append(errs, errors.New("cycle.ratchet must be non-negative"))
	}
	if c.Cycle.RelativeGap < 0 || c.Cycle.RelativeGap >= 1 || math.IsNaN(c.Cycle.RelativeGap) {
		errs = append(errs, errors.New("cycle.relative_gap must be in [0, 1)"))
	}
	if c.Cycle.TickIntervalMs <= 0 {
		errs = append(errs, errors.New("cycle.tick_interval_ms must be positive"))
	}
	if c.Backend.DistanceCutoff <= 0 {
		errs = append(errs, errors.New("backend.distance_cutoff must be positive"))
	}
	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("COVER_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("COVER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("COVER_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("COVER_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("COVER_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("COVER_BACKEND_USER"); v != "" {
		cfg.Backend.User = v
	}
	if v := os.Getenv("COVER_BACKEND_PASSWORD"); v != "" {
		cfg.Backend.Password = v
	}
	if v := os.Getenv("COVER_TICK_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cycle.TickIntervalMs = n
		}
	}
	if v := os.Getenv("COVER_SOLVE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cycle.SolveTimeoutMs = n
		}
	}
	if v := os.Getenv("COVER_ABNORMALITY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Abnormality.Enabled = b
		}
	}
	if v := os.Getenv("COVER_ABNORMALITY_MODEL"); v != "" {
		cfg.Abnormality.ModelPath = v
	}
	if v := os.Getenv("COVER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
