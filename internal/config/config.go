package config

import (
	_ "time/tzdata"

	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Embedder backends.
const (
	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
)

// Config holds application configuration.
type Config struct {
	// Timezone is the single IANA zone reminders are evaluated in
	Timezone string `json:"timezone"`

	// TickIntervalSeconds is how often the reminder scheduler checks for due jobs
	TickIntervalSeconds int `json:"tick_interval_seconds"`

	// CollaboratorTimeoutSeconds bounds each extraction, structuring,
	// embedding and composition call
	CollaboratorTimeoutSeconds int `json:"collaborator_timeout_seconds"`

	// DeliveryTimeoutSeconds bounds each reminder delivery
	DeliveryTimeoutSeconds int `json:"delivery_timeout_seconds"`

	// EnqueueTimeoutMillis is how long the scheduler waits for room in the dispatch queue
	EnqueueTimeoutMillis int `json:"enqueue_timeout_millis"`

	// DispatchQueueSize is the capacity of the dispatch queue
	DispatchQueueSize int `json:"dispatch_queue_size"`

	// DispatchWorkers is the number of delivery workers
	DispatchWorkers int `json:"dispatch_workers"`

	// TopK is how many index entries a question retrieves
	TopK int `json:"top_k"`

	// Embedder selects the embedding backend: "hash" (local, default) or "openai".
	Embedder string `json:"embedder"`

	// EmbedDimensions is the vector size. For "openai" it is sent as the
	// dimensions parameter.
	EmbedDimensions int `json:"embed_dimensions"`

	// EmbedBaseURL and EmbedModel configure the "openai" embedder.
	EmbedBaseURL string `json:"embed_base_url,omitempty"`
	EmbedModel   string `json:"embed_model,omitempty"`

	// LLMBaseURL is an OpenAI-compatible endpoint used for extraction,
	// structuring and answers.
	LLMBaseURL  string `json:"llm_base_url"`
	ChatModel   string `json:"chat_model"`
	VisionModel string `json:"vision_model"`

	// HTTPAddr is the listen address of the HTTP ingress. Empty disables it.
	HTTPAddr string `json:"http_addr,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DBMaxOpenConns limits open database connections. 0 means sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle database connections. 0 means sql.DB default.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// Secrets come from the environment only.
	TelegramToken string `json:"-"`
	GroqAPIKey    string `json:"-"`
	EmbedAPIKey   string `json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:                   "Asia/Kolkata",
		TickIntervalSeconds:        60,
		CollaboratorTimeoutSeconds: 60,
		DeliveryTimeoutSeconds:     10,
		EnqueueTimeoutMillis:       500,
		DispatchQueueSize:          256,
		DispatchWorkers:            4,
		TopK:                       5,
		Embedder:                   EmbedderHash,
		EmbedDimensions:            256,
		EmbedBaseURL:               "https://api.openai.com/v1",
		EmbedModel:                 "text-embedding-3-small",
		LLMBaseURL:                 "https://api.groq.com/openai/v1",
		ChatModel:                  "llama-3.3-70b-versatile",
		VisionModel:                "meta-llama/llama-4-scout-17b-16e-instruct",
		LogLevel:                   "info",
		LogFormat:                  "text",
	}
}

// BaseDir returns CLASSMATE_HOME if set, else ~/.classmate.
func BaseDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("CLASSMATE_HOME")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".classmate"), nil
}

// Load loads configuration from baseDir/config.json, applies environment
// overrides and returns it. A missing file yields defaults.
// The baseDir parameter allows tests to use t.TempDir().
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// ApplyEnv fills secrets and overrides from getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg.TelegramToken = get("TELEGRAM_BOT_TOKEN")
	cfg.GroqAPIKey = get("GROQ_API_KEY")
	cfg.EmbedAPIKey = get("CLASSMATE_EMBED_API_KEY")
	if v := get("CLASSMATE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := get("CLASSMATE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}
	return cfg, nil
}

func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars; arrays are merged
// and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := *base

	pickInt(&result.TickIntervalSeconds, overlay.TickIntervalSeconds)
	pickInt(&result.CollaboratorTimeoutSeconds, overlay.CollaboratorTimeoutSeconds)
	pickInt(&result.DeliveryTimeoutSeconds, overlay.DeliveryTimeoutSeconds)
	pickInt(&result.EnqueueTimeoutMillis, overlay.EnqueueTimeoutMillis)
	pickInt(&result.DispatchQueueSize, overlay.DispatchQueueSize)
	pickInt(&result.DispatchWorkers, overlay.DispatchWorkers)
	pickInt(&result.TopK, overlay.TopK)
	pickInt(&result.EmbedDimensions, overlay.EmbedDimensions)
	pickInt(&result.DBMaxOpenConns, overlay.DBMaxOpenConns)
	pickInt(&result.DBMaxIdleConns, overlay.DBMaxIdleConns)

	pickString(&result.Timezone, overlay.Timezone)
	pickString(&result.Embedder, overlay.Embedder)
	pickString(&result.EmbedBaseURL, overlay.EmbedBaseURL)
	pickString(&result.EmbedModel, overlay.EmbedModel)
	pickString(&result.LLMBaseURL, overlay.LLMBaseURL)
	pickString(&result.ChatModel, overlay.ChatModel)
	pickString(&result.VisionModel, overlay.VisionModel)
	pickString(&result.HTTPAddr, overlay.HTTPAddr)
	pickString(&result.LogLevel, overlay.LogLevel)
	pickString(&result.LogFormat, overlay.LogFormat)
	pickString(&result.TelegramToken, overlay.TelegramToken)
	pickString(&result.GroqAPIKey, overlay.GroqAPIKey)
	pickString(&result.EmbedAPIKey, overlay.EmbedAPIKey)

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	return &result
}

func pickInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func pickString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var invalid []string

	if _, err := time.LoadLocation(c.Timezone); err != nil || c.Timezone == "" {
		invalid = append(invalid, fmt.Sprintf("timezone %q", c.Timezone))
	}
	positive := map[string]int{
		"tick_interval_seconds":        c.TickIntervalSeconds,
		"collaborator_timeout_seconds": c.CollaboratorTimeoutSeconds,
		"delivery_timeout_seconds":     c.DeliveryTimeoutSeconds,
		"enqueue_timeout_millis":       c.EnqueueTimeoutMillis,
		"dispatch_queue_size":          c.DispatchQueueSize,
		"dispatch_workers":             c.DispatchWorkers,
		"top_k":                        c.TopK,
		"embed_dimensions":             c.EmbedDimensions,
	}
	for _, name := range slices.Sorted(maps.Keys(positive)) {
		if positive[name] <= 0 {
			invalid = append(invalid, fmt.Sprintf("%s must be positive (got %d)", name, positive[name]))
		}
	}
	if c.DBMaxOpenConns < 0 || c.DBMaxIdleConns < 0 {
		invalid = append(invalid, "db connection limits must not be negative")
	}
	switch c.Embedder {
	case EmbedderHash, EmbedderOpenAI:
	default:
		invalid = append(invalid, fmt.Sprintf("embedder %q (want %q or %q)", c.Embedder, EmbedderHash, EmbedderOpenAI))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, fmt.Sprintf("log_level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		invalid = append(invalid, fmt.Sprintf("log_format %q", c.LogFormat))
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(invalid, "; "))
	}
	return nil
}

// Location loads the configured zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// TickInterval returns the scheduler tick period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// CollaboratorTimeout returns the bound on each external call.
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSeconds) * time.Second
}

// DeliveryTimeout returns the bound on each reminder delivery.
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSeconds) * time.Second
}

// EnqueueTimeout returns how long Submit may wait for queue space.
func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.EnqueueTimeoutMillis) * time.Millisecond
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
