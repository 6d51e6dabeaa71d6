// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCHealthPort  string
	FrontendURL     string
	DBPath          string
	StoreDriver     string
	Location        *time.Location
	TaskCatalogPath string

	StoreWriteTimeout   time.Duration
	ChairIdleTTL        time.Duration
	SweepInterval       time.Duration
	ReportRetentionDays int

	Monitor MonitorConfig
	Model   ModelConfig
}

// MonitorConfig holds the per-chair timings.
type MonitorConfig struct {
	HydrationDelay         time.Duration
	TaskCooldown           time.Duration
	TaskDwellThreshold     time.Duration
	CooldownDebounce       time.Duration
	SessionTick            time.Duration
	SessionPersistEvery    int
	BehaviorSampleInterval time.Duration
	BehaviorBufferSize     int
	RecommendationsEnabled bool
	AdaptiveTasks          bool
}

// ModelConfig controls the task predictor.
type ModelConfig struct {
	RetrainInterval   time.Duration
	MinRetrainSamples int
	BootstrapSamples  int
	Seed              uint64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	loc, err := loadLocation(getEnv("TZ", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GRPCHealthPort:  getEnv("GRPC_HEALTH_PORT", "9090"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/chairwatch.db"),
		StoreDriver:     getEnv("STORE_DRIVER", "sqlite"),
		Location:        loc,
		TaskCatalogPath: getEnv("TASK_CATALOG_PATH", ""),

		StoreWriteTimeout:   getEnvDuration("STORE_WRITE_TIMEOUT", 2*time.Second),
		ChairIdleTTL:        getEnvDuration("CHAIR_IDLE_TTL", 60*time.Minute),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		ReportRetentionDays: getEnvInt("REPORT_RETENTION_DAYS", 90),

		Monitor: MonitorConfig{
			HydrationDelay:         getEnvDuration("HYDRATION_DELAY", 20*time.Minute),
			TaskCooldown:           getEnvDuration("TASK_COOLDOWN", 5*time.Minute),
			TaskDwellThreshold:     getEnvDuration("TASK_DWELL_THRESHOLD", 20*time.Minute),
			CooldownDebounce:       getEnvDuration("COOLDOWN_DEBOUNCE", 10*time.Second),
			SessionTick:            getEnvDuration("SESSION_TICK", time.Second),
			SessionPersistEvery:    getEnvInt("SESSION_PERSIST_EVERY", 15),
			BehaviorSampleInterval: getEnvDuration("BEHAVIOR_SAMPLE_INTERVAL", time.Minute),
			BehaviorBufferSize:     getEnvInt("BEHAVIOR_BUFFER_SIZE", 20),
			RecommendationsEnabled: getEnvBool("RECOMMENDATIONS_ENABLED", true),
			AdaptiveTasks:          getEnvBool("RECOMMENDATIONS_ADAPTIVE", true),
		},
		Model: ModelConfig{
			RetrainInterval:   getEnvDuration("MODEL_RETRAIN_INTERVAL", 30*time.Minute),
			MinRetrainSamples: getEnvInt("MODEL_MIN_RETRAIN_SAMPLES", 10),
			BootstrapSamples:  getEnvInt("MODEL_BOOTSTRAP_SAMPLES", 500),
			Seed:              uint64(getEnvInt("MODEL_SEED", 42)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or memory, got %q", c.StoreDriver)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"STORE_WRITE_TIMEOUT", c.StoreWriteTimeout},
		{"CHAIR_IDLE_TTL", c.ChairIdleTTL},
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"HYDRATION_DELAY", c.Monitor.HydrationDelay},
		{"TASK_COOLDOWN", c.Monitor.TaskCooldown},
		{"TASK_DWELL_THRESHOLD", c.Monitor.TaskDwellThreshold},
		{"COOLDOWN_DEBOUNCE", c.Monitor.CooldownDebounce},
		{"SESSION_TICK", c.Monitor.SessionTick},
		{"BEHAVIOR_SAMPLE_INTERVAL", c.Monitor.BehaviorSampleInterval},
		{"MODEL_RETRAIN_INTERVAL", c.Model.RetrainInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}

	if c.Monitor.SessionPersistEvery <= 0 {
		return errors.New("SESSION_PERSIST_EVERY must be > 0")
	}
	if c.Monitor.BehaviorBufferSize <= 0 {
		return errors.New("BEHAVIOR_BUFFER_SIZE must be > 0")
	}
	if c.Model.MinRetrainSamples <= 0 {
		return errors.New("MODEL_MIN_RETRAIN_SAMPLES must be > 0")
	}
	if c.ReportRetentionDays < 0 {
		return errors.New("REPORT_RETENTION_DAYS must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("TZ %q: %w", name, err)
	}
	return loc, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("90s", "20m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
