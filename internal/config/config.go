// Package config provides configuration management for the consolidation
// engine, handling environment variables and runtime settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Qdrant        QdrantConfig        `json:"qdrant" yaml:"qdrant"`
	Consolidation ConsolidationConfig `json:"consolidation" yaml:"consolidation"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
}

// ServerConfig represents host-process configuration (the embedding host,
// not a wire protocol the engine itself defines).
type ServerConfig struct {
	Port         int    `json:"port" yaml:"port"`
	Host         string `json:"host" yaml:"host"`
	ReadTimeout  int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// QdrantConfig represents Qdrant vector database configuration.
type QdrantConfig struct {
	Host           string       `json:"host" yaml:"host"`
	Port           int          `json:"port" yaml:"port"`
	APIKey         string       `json:"-" yaml:"api_key,omitempty"` // Never serialize API key to JSON
	UseTLS         bool         `json:"use_tls" yaml:"use_tls"`
	Collection     string       `json:"collection" yaml:"collection"`
	Docker         DockerConfig `json:"docker" yaml:"docker"`
	HealthCheck    bool         `json:"health_check" yaml:"health_check"`
	RetryAttempts  int          `json:"retry_attempts" yaml:"retry_attempts"`
	TimeoutSeconds int          `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// DockerConfig represents Docker-specific configuration for the store.
type DockerConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ContainerName string `json:"container_name" yaml:"container_name"`
	VolumePath    string `json:"volume_path" yaml:"volume_path"`
	Image         string `json:"image" yaml:"image"`
}

// ConsolidationConfig holds every tunable named by the consolidation
// engine's external interface.
type ConsolidationConfig struct {
	SimilarityThreshold    float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	BaseThreshold          int     `json:"base_threshold" yaml:"base_threshold"`
	ScaleFactor            float64 `json:"scale_factor" yaml:"scale_factor"`
	PollIntervalMs         int     `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	UseHNSWToggle          bool    `json:"use_hnsw_toggle" yaml:"use_hnsw_toggle"`
	MaxLevel               int     `json:"max_level" yaml:"max_level"`
	ScrollPageSize         int     `json:"scroll_page_size" yaml:"scroll_page_size"`
	NeighborsPerSeed       int     `json:"neighbors_per_seed" yaml:"neighbors_per_seed"`
	GracePeriodDays        int     `json:"grace_period_days" yaml:"grace_period_days"`
	StabilityUpdateEpsilon float64 `json:"stability_update_epsilon" yaml:"stability_update_epsilon"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	VacuumScanLimit        int     `json:"vacuum_scan_limit" yaml:"vacuum_scan_limit"`
	StabilityScanLimit     int     `json:"stability_scan_limit" yaml:"stability_scan_limit"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "localhost",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			UseTLS:         false,
			Collection:     "atlas_chunks",
			HealthCheck:    true,
			RetryAttempts:  3,
			TimeoutSeconds: 30,
			Docker: DockerConfig{
				Enabled:       true,
				ContainerName: "atlas-qdrant",
				VolumePath:    "./data/qdrant",
				Image:         "qdrant/qdrant:latest",
			},
		},
		Consolidation: ConsolidationConfig{
			SimilarityThreshold:    0.92,
			BaseThreshold:          100,
			ScaleFactor:            0.05,
			PollIntervalMs:         30000,
			UseHNSWToggle:          true,
			MaxLevel:               4,
			ScrollPageSize:         100,
			NeighborsPerSeed:       10,
			GracePeriodDays:        14,
			StabilityUpdateEpsilon: 0.05,
			MaxConsecutiveFailures: 3,
			VacuumScanLimit:        1000,
			StabilityScanLimit:     500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML overlay
// file, and environment variables, in that precedence order (env wins).
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if err := applyFileOverlay(config); err != nil {
		return nil, err
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// defaultOverlayPath is where LoadConfig looks for a YAML overlay when
// ATLAS_CONFIG_FILE isn't set, mirroring the teacher's convention of a
// checked-in rule/config file read at startup.
const defaultOverlayPath = "atlas-consolidation.yaml"

// applyFileOverlay merges a YAML config file onto config, if one is
// named by ATLAS_CONFIG_FILE or present at defaultOverlayPath. A missing
// default path is not an error; a missing explicit path is.
func applyFileOverlay(config *Config) error {
	path := os.Getenv("ATLAS_CONFIG_FILE")
	explicit := path != ""
	if !explicit {
		path = defaultOverlayPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("reading config overlay %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config overlay %q: %w", path, err)
	}
	return nil
}

func loadFromEnv(config *Config) {
	loadServerConfig(config)
	loadQdrantConfig(config)
	loadConsolidationConfig(config)
	loadLoggingConfig(config)
}

func loadServerConfig(config *Config) {
	if port := os.Getenv("ATLAS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ATLAS_HOST"); host != "" {
		config.Server.Host = host
	}
	config.Server.ReadTimeout = getIntEnvWithDefault("ATLAS_READ_TIMEOUT_SECONDS", config.Server.ReadTimeout)
	config.Server.WriteTimeout = getIntEnvWithDefault("ATLAS_WRITE_TIMEOUT_SECONDS", config.Server.WriteTimeout)
}

func loadQdrantConfig(config *Config) {
	config.Qdrant.Host = getStringEnvWithFallback("ATLAS_QDRANT_HOST", "QDRANT_HOST", config.Qdrant.Host)
	config.Qdrant.Port = getIntEnvWithFallback("ATLAS_QDRANT_PORT", "QDRANT_PORT", config.Qdrant.Port)
	config.Qdrant.APIKey = getStringEnvWithFallback("ATLAS_QDRANT_API_KEY", "QDRANT_API_KEY", config.Qdrant.APIKey)
	config.Qdrant.UseTLS = getBoolEnvWithFallback("ATLAS_QDRANT_USE_TLS", "QDRANT_USE_TLS", config.Qdrant.UseTLS)
	config.Qdrant.Collection = getStringEnvWithFallback("ATLAS_QDRANT_COLLECTION", "QDRANT_COLLECTION", config.Qdrant.Collection)
	config.Qdrant.HealthCheck = getBoolEnvWithDefault("ATLAS_QDRANT_HEALTH_CHECK", config.Qdrant.HealthCheck)
	config.Qdrant.RetryAttempts = getIntEnvWithDefault("ATLAS_QDRANT_RETRY_ATTEMPTS", config.Qdrant.RetryAttempts)
	config.Qdrant.TimeoutSeconds = getIntEnvWithDefault("ATLAS_QDRANT_TIMEOUT_SECONDS", config.Qdrant.TimeoutSeconds)

	if dockerEnabled := os.Getenv("ATLAS_QDRANT_DOCKER_ENABLED"); dockerEnabled != "" {
		if de, err := strconv.ParseBool(dockerEnabled); err == nil {
			config.Qdrant.Docker.Enabled = de
		}
	}
	if containerName := os.Getenv("ATLAS_QDRANT_CONTAINER_NAME"); containerName != "" {
		config.Qdrant.Docker.ContainerName = containerName
	}
	if volumePath := os.Getenv("ATLAS_QDRANT_VOLUME_PATH"); volumePath != "" {
		config.Qdrant.Docker.VolumePath = volumePath
	}
	if image := os.Getenv("ATLAS_QDRANT_IMAGE"); image != "" {
		config.Qdrant.Docker.Image = image
	}
}

func loadConsolidationConfig(config *Config) {
	c := &config.Consolidation
	if v := os.Getenv("ATLAS_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SimilarityThreshold = f
		}
	}
	c.BaseThreshold = getIntEnvWithDefault("ATLAS_BASE_THRESHOLD", c.BaseThreshold)
	if v := os.Getenv("ATLAS_SCALE_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ScaleFactor = f
		}
	}
	c.PollIntervalMs = getIntEnvWithDefault("ATLAS_POLL_INTERVAL_MS", c.PollIntervalMs)
	c.UseHNSWToggle = getBoolEnvWithDefault("ATLAS_USE_HNSW_TOGGLE", c.UseHNSWToggle)
	c.MaxLevel = getIntEnvWithDefault("ATLAS_MAX_LEVEL", c.MaxLevel)
	c.ScrollPageSize = getIntEnvWithDefault("ATLAS_SCROLL_PAGE_SIZE", c.ScrollPageSize)
	c.NeighborsPerSeed = getIntEnvWithDefault("ATLAS_NEIGHBORS_PER_SEED", c.NeighborsPerSeed)
	c.GracePeriodDays = getIntEnvWithDefault("ATLAS_GRACE_PERIOD_DAYS", c.GracePeriodDays)
	if v := os.Getenv("ATLAS_STABILITY_UPDATE_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.StabilityUpdateEpsilon = f
		}
	}
	c.MaxConsecutiveFailures = getIntEnvWithDefault("ATLAS_MAX_CONSECUTIVE_FAILURES", c.MaxConsecutiveFailures)
	c.VacuumScanLimit = getIntEnvWithDefault("ATLAS_VACUUM_SCAN_LIMIT", c.VacuumScanLimit)
	c.StabilityScanLimit = getIntEnvWithDefault("ATLAS_STABILITY_SCAN_LIMIT", c.StabilityScanLimit)
}

func loadLoggingConfig(config *Config) {
	if level := os.Getenv("ATLAS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("ATLAS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

func getStringEnvWithFallback(primaryKey, fallbackKey, defaultValue string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(fallbackKey); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvWithFallback(primaryKey, fallbackKey string, defaultValue int) int {
	if value := os.Getenv(primaryKey); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	if value := os.Getenv(fallbackKey); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnvWithFallback(primaryKey, fallbackKey string, defaultValue bool) bool {
	if value := os.Getenv(primaryKey); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	if value := os.Getenv(fallbackKey); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateServerConfig(); err != nil {
		return err
	}
	if err := c.validateQdrantConfig(); err != nil {
		return err
	}
	return c.validateConsolidationConfig()
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		return errors.New("server host cannot be empty")
	}
	return nil
}

func (c *Config) validateQdrantConfig() error {
	if c.Qdrant.Host == "" {
		return errors.New("qdrant host cannot be empty")
	}
	if c.Qdrant.Port <= 0 {
		return errors.New("qdrant port must be greater than 0")
	}
	if c.Qdrant.Collection == "" {
		return errors.New("qdrant collection cannot be empty")
	}
	if c.Qdrant.Docker.Enabled && c.Qdrant.Docker.ContainerName == "" {
		return errors.New("docker container name cannot be empty when docker is enabled")
	}
	return nil
}

func (c *Config) validateConsolidationConfig() error {
	cc := c.Consolidation
	if cc.SimilarityThreshold <= 0 || cc.SimilarityThreshold > 1 {
		return errors.New("similarity threshold must be in (0,1]")
	}
	if cc.BaseThreshold < 0 {
		return errors.New("base threshold cannot be negative")
	}
	if cc.ScaleFactor < 0 {
		return errors.New("scale factor cannot be negative")
	}
	if cc.PollIntervalMs <= 0 {
		return errors.New("poll interval must be positive")
	}
	if cc.MaxLevel <= 0 {
		return errors.New("max level must be positive")
	}
	if cc.ScrollPageSize <= 0 {
		return errors.New("scroll page size must be positive")
	}
	if cc.NeighborsPerSeed <= 0 {
		return errors.New("neighbors per seed must be positive")
	}
	if cc.GracePeriodDays < 0 {
		return errors.New("grace period days cannot be negative")
	}
	if cc.StabilityUpdateEpsilon < 0 {
		return errors.New("stability update epsilon cannot be negative")
	}
	if cc.MaxConsecutiveFailures <= 0 {
		return errors.New("max consecutive failures must be positive")
	}
	return nil
}
