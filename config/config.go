package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in SEEKER_PROVIDER
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderStatic = "static"
)

// Storage backends accepted in SEEKER_STORAGE
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// CircuitBreakerConfig controls circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold   int           `json:"failure_threshold"`    // Number of failures before opening circuit
	BackoffDuration    time.Duration `json:"backoff_duration"`     // How long to wait before retrying failed endpoint
	MaxBackoffDuration time.Duration `json:"max_backoff_duration"` // Maximum backoff time
	ResetTimeout       time.Duration `json:"reset_timeout"`        // Time to reset failure count after success
}

// DefaultCircuitBreakerConfig returns sensible defaults for circuit breaker
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:   2,
		BackoffDuration:    30 * time.Second,
		MaxBackoffDuration: 5 * time.Minute,
		ResetTimeout:       1 * time.Minute,
	}
}

// Config represents the server configuration, read from .env and the environment
type Config struct {
	Port string `json:"port"`

	// Token stream provider
	Provider      string        `json:"provider"`
	Model         string        `json:"model"`
	Endpoints     []string      `json:"endpoints"` // OpenAI-compatible endpoints, tried in order with failover
	APIKey        string        `json:"-"`
	GCPProject    string        `json:"gcp_project"`
	GCPLocation   string        `json:"gcp_location"`
	Temperature   float64       `json:"temperature"`
	StreamTimeout time.Duration `json:"stream_timeout"`

	// Transcript storage
	Storage string `json:"storage"`
	DataDir string `json:"data_dir"`

	// Logging
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`

	// Session behavior
	TitleMaxLength int `json:"title_max_length"` // Titles longer than this are cut and end in "..."
	HistoryLimit   int `json:"history_limit"`    // Prior messages sent with each query, 0 means all

	// System prompt overrides (loaded from prompt_overrides.yaml)
	PromptOverridesPath string          `json:"prompt_overrides_path"`
	PromptOverrides     PromptOverrides `json:"prompt_overrides"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

// GetDefaultConfig returns the configuration used when nothing is set
func GetDefaultConfig() *Config {
	return &Config{
		Port:                "3456",
		Provider:            ProviderGemini,
		Model:               "gemini-2.5-pro",
		Endpoints:           []string{},
		GCPLocation:         "us-central1",
		Temperature:         0.2,
		StreamTimeout:       5 * time.Minute,
		Storage:             StorageMemory,
		DataDir:             "data",
		LogDir:              "logs",
		LogLevel:            "INFO",
		TitleMaxLength:      30,
		HistoryLimit:        20,
		PromptOverridesPath: "prompt_overrides.yaml",
		CircuitBreaker:      DefaultCircuitBreakerConfig(),
	}
}

// LoadConfigWithEnv loads the given .env files (".env" when none is named),
// overlays the process environment and validates the result. Missing .env
// files are not an error; variables already set in the environment win.
func LoadConfigWithEnv(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logrus.Debugf("📝 %s not found, using environment only", file)
				continue
			}
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		logrus.Infof("📝 Loaded environment from %s", file)
	}

	cfg := GetDefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	overrides, err := LoadPromptOverrides(cfg.PromptOverridesPath)
	if err != nil {
		logrus.Warnf("⚠️  Warning: Failed to load prompt overrides from %s: %v", cfg.PromptOverridesPath, err)
	} else {
		cfg.PromptOverrides = overrides
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := env("SEEKER_PORT"); port != "" {
		c.Port = port
	}
	if provider := env("SEEKER_PROVIDER"); provider != "" {
		c.Provider = strings.ToLower(provider)
		logrus.Infof("🔧 Configured SEEKER_PROVIDER: %s", c.Provider)
	}
	if model := env("SEEKER_MODEL"); model != "" {
		c.Model = model
		logrus.Infof("🔧 Configured SEEKER_MODEL: %s", c.Model)
	}
	if endpoints := env("SEEKER_ENDPOINTS"); endpoints != "" {
		c.Endpoints = splitList(endpoints)
		logrus.Infof("🔧 Configured SEEKER_ENDPOINTS: %v (%d endpoints)", c.Endpoints, len(c.Endpoints))
	}
	if apiKey := env("SEEKER_API_KEY"); apiKey != "" {
		c.APIKey = apiKey
		logrus.Infof("🔧 Configured SEEKER_API_KEY: %s", MaskAPIKey(apiKey))
	}
	if project := env("SEEKER_GCP_PROJECT"); project != "" {
		c.GCPProject = project
	}
	if location := env("SEEKER_GCP_LOCATION"); location != "" {
		c.GCPLocation = location
	}
	if storage := env("SEEKER_STORAGE"); storage != "" {
		c.Storage = strings.ToLower(storage)
		logrus.Infof("💾 Configured SEEKER_STORAGE: %s", c.Storage)
	}
	if dir := env("SEEKER_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if dir := env("SEEKER_LOG_DIR"); dir != "" {
		c.LogDir = dir
	}
	if level := env("SEEKER_LOG_LEVEL"); level != "" {
		c.LogLevel = strings.ToUpper(level)
	}
	if path := env("SEEKER_PROMPT_OVERRIDES"); path != "" {
		c.PromptOverridesPath = path
	}

	var err error
	if c.Temperature, err = envFloat("SEEKER_TEMPERATURE", c.Temperature); err != nil {
		return err
	}
	if c.TitleMaxLength, err = envInt("SEEKER_TITLE_MAX", c.TitleMaxLength); err != nil {
		return err
	}
	if c.HistoryLimit, err = envInt("SEEKER_HISTORY_LIMIT", c.HistoryLimit); err != nil {
		return err
	}
	if c.StreamTimeout, err = envDuration("SEEKER_STREAM_TIMEOUT", c.StreamTimeout); err != nil {
		return err
	}

	cb := &c.CircuitBreaker
	if cb.FailureThreshold, err = envInt("SEEKER_CB_FAILURE_THRESHOLD", cb.FailureThreshold); err != nil {
		return err
	}
	if cb.BackoffDuration, err = envDuration("SEEKER_CB_BACKOFF", cb.BackoffDuration); err != nil {
		return err
	}
	if cb.MaxBackoffDuration, err = envDuration("SEEKER_CB_MAX_BACKOFF", cb.MaxBackoffDuration); err != nil {
		return err
	}
	if cb.ResetTimeout, err = envDuration("SEEKER_CB_RESET_TIMEOUT", cb.ResetTimeout); err != nil {
		return err
	}
	return nil
}

// Validate checks that the settings required by the chosen provider and storage are present
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("%w: port %q is not a number", ErrInvalidConfig, c.Port)
	}

	switch c.Provider {
	case ProviderOpenAI:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("%w: provider %s requires SEEKER_ENDPOINTS", ErrInvalidConfig, c.Provider)
		}
		if c.Model == "" {
			return fmt.Errorf("%w: provider %s requires SEEKER_MODEL", ErrInvalidConfig, c.Provider)
		}
	case ProviderGemini:
		if c.Model == "" {
			return fmt.Errorf("%w: provider %s requires SEEKER_MODEL", ErrInvalidConfig, c.Provider)
		}
		if c.APIKey == "" && c.GCPProject == "" {
			return fmt.Errorf("%w: provider %s requires SEEKER_API_KEY or SEEKER_GCP_PROJECT", ErrInvalidConfig, c.Provider)
		}
	case ProviderStatic:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}

	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("%w: sqlite storage requires SEEKER_DATA_DIR", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	}

	if c.TitleMaxLength < 4 {
		return fmt.Errorf("%w: title max length must be at least 4, got %d", ErrInvalidConfig, c.TitleMaxLength)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("%w: history limit must not be negative", ErrInvalidConfig)
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("%w: stream timeout must be positive", ErrInvalidConfig)
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("%w: circuit breaker failure threshold must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// MaskAPIKey masks an API key for safe logging
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func envInt(key string, fallback int) (int, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidConfig, key, raw)
	}
	return v, nil
}

// PromptReplacement represents a find/replace operation on the system prompt
type PromptReplacement struct {
	Find    string `yaml:"find"`
	Replace string `yaml:"replace"`
}

// PromptOverrides represents system prompt modification configuration
type PromptOverrides struct {
	RemovePatterns []string            `yaml:"removePatterns"`
	Replacements   []PromptReplacement `yaml:"replacements"`
	Prepend        string              `yaml:"prepend"`
	Append         string              `yaml:"append"`
}

// IsEmpty reports whether the overrides change nothing
func (o PromptOverrides) IsEmpty() bool {
	return len(o.RemovePatterns) == 0 && len(o.Replacements) == 0 && o.Prepend == "" && o.Append == ""
}

// promptOverridesYAML represents the structure of prompt_overrides.yaml
type promptOverridesYAML struct {
	PromptOverrides PromptOverrides `yaml:"promptOverrides"`
}

// LoadPromptOverrides loads system prompt overrides from path.
// Returns an empty struct if the file doesn't exist (no error).
func LoadPromptOverrides(path string) (PromptOverrides, error) {
	if path == "" {
		return PromptOverrides{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Debugf("📝 %s not found, using the built-in system prompt", path)
			return PromptOverrides{}, nil
		}
		return PromptOverrides{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var yamlData promptOverridesYAML
	if err := yaml.NewDecoder(file).Decode(&yamlData); err != nil {
		return PromptOverrides{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	overrides := yamlData.PromptOverrides
	logrus.Infof("📝 Loaded prompt overrides from %s: remove=%d, replace=%d, prepend=%t, append=%t",
		path, len(overrides.RemovePatterns), len(overrides.Replacements), overrides.Prepend != "", overrides.Append != "")

	return overrides, nil
}

// ApplyPromptOverrides applies system prompt modifications.
// Operations are applied in order: removePatterns -> replacements -> prepend/append
func ApplyPromptOverrides(prompt string, overrides PromptOverrides) string {
	message := prompt

	for _, pattern := range overrides.RemovePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logrus.Warnf("⚠️  Warning: Invalid regex pattern '%s': %v", pattern, err)
			continue
		}
		if re.MatchString(message) {
			logrus.Debugf("🔍 removePattern matched '%s'", pattern)
			message = re.ReplaceAllString(message, "")
		}
	}

	for _, replacement := range overrides.Replacements {
		if replacement.Find == "" {
			continue
		}
		if occurrences := strings.Count(message, replacement.Find); occurrences > 0 {
			message = strings.ReplaceAll(message, replacement.Find, replacement.Replace)
			logrus.Debugf("🔄 replacement applied: '%s' → '%s' (%d occurrences)",
				replacement.Find, replacement.Replace, occurrences)
		}
	}

	if overrides.Prepend != "" {
		message = overrides.Prepend + message
	}
	if overrides.Append != "" {
		message = message + overrides.Append
	}

	return message
}
