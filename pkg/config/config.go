package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/jsonc"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the business-level configuration stored in config.json.
// Provider groups and channel payloads stay raw so each factory can decode
// its own shape.
type Config struct {
	// LLM holds the ordered list of provider groups used for chat.
	LLM jsoniter.RawMessage `json:"llm"`
	// Embedding holds one provider group used to embed search passages.
	// When empty, semantic search is disabled.
	Embedding jsoniter.RawMessage `json:"embedding,omitempty"`
	// Channels maps channel identifiers ("web", "telegram") to their payloads.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// Checkpoint selects where conversation state is persisted.
	Checkpoint CheckpointConfig `json:"checkpoint"`
	// Search configures the in-memory passage index.
	Search SearchConfig `json:"search"`
	// SupervisorPrompt overrides the built-in supervisor persona when set.
	SupervisorPrompt string `json:"supervisor_prompt,omitempty"`
}

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	// Backend is one of "memory", "file" or "redis". Default: "file".
	Backend string `json:"backend"`
	// Dir is the directory used by the file backend.
	Dir string `json:"dir,omitempty"`
	// RedisURL is a redis:// URL used by the redis backend and the turn locker.
	RedisURL string `json:"redis_url,omitempty"`
	// Prefix namespaces redis keys.
	Prefix string `json:"prefix,omitempty"`
	// Codec is "json" or "cbor". Default: "json".
	Codec string `json:"codec,omitempty"`
	// Compress wraps encoded checkpoints in zstd frames.
	Compress bool `json:"compress,omitempty"`
}

// SearchConfig points the passage index at its seed catalog.
type SearchConfig struct {
	// SeedFile is a YAML catalog of collections and passages loaded at startup.
	SeedFile string `json:"seed_file,omitempty"`
	// TopK is the number of passages returned per query. Default: 3.
	TopK int `json:"top_k,omitempty"`
}

// Validate ensures the configuration contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	switch c.Checkpoint.Backend {
	case "", "memory", "file":
	case "redis":
		if c.Checkpoint.RedisURL == "" {
			return fmt.Errorf("checkpoint backend 'redis' requires 'redis_url'")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	switch c.Checkpoint.Codec {
	case "", "json", "cbor":
	default:
		return fmt.Errorf("unknown checkpoint codec %q", c.Checkpoint.Codec)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "file"
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "checkpoints"
	}
	if c.Checkpoint.Prefix == "" {
		c.Checkpoint.Prefix = "airose"
	}
	if c.Checkpoint.Codec == "" {
		c.Checkpoint.Codec = "json"
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = 3
	}
}

// SystemConfig defines engine-level technical parameters stored in system.json.
// Changes to this file are hot-reloaded.
type SystemConfig struct {
	// TrimKeep is the number of most recent messages kept by the trim step.
	// Zero or negative disables trimming.
	TrimKeep int `json:"trim_keep"`
	// MaxToolRounds bounds the tool rounds a responder may run in one turn.
	// Zero or less falls back to the default.
	MaxToolRounds int `json:"max_tool_rounds"`
	// RecursionLimit bounds the node executions of one turn.
	RecursionLimit int `json:"recursion_limit"`
	// MaxRetries is the number of attempts per provider on transient errors.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base wait between retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for a single model request.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// TurnTimeoutMs is the hard cutoff for a whole turn.
	TurnTimeoutMs int `json:"turn_timeout_ms"`
	// TurnLockTTLMs is how long a conversation lock is held before it expires.
	TurnLockTTLMs int `json:"turn_lock_ttl_ms"`
	// ThinkingInitDelayMs is how long a turn may run before channels get a
	// "thinking" signal.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// OllamaDefaultURL is used when an ollama group has no base_url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer sizes the stream chunk channels.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// TelegramMessageLimit is the maximum length of one Telegram message.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DebugChunks saves every raw provider chunk under ./debug.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel is one of "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns safe defaults used when system.json is missing or corrupt.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		TrimKeep:              10,
		MaxToolRounds:         8,
		RecursionLimit:        100,
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          120000,
		TurnTimeoutMs:         300000,
		TurnLockTTLMs:         360000,
		ThinkingInitDelayMs:   800,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		TelegramMessageLimit:  4000,
		LogLevel:              "info",
	}
}

// Load reads config.json at appPath and system.json at sysPath.
// The app config is mandatory; the system config falls back to defaults.
// Both files may contain // and /* */ comments and trailing commas.
func Load(appPath, sysPath string) (*Config, *SystemConfig, error) {
	raw, err := os.ReadFile(appPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
		}
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	return cfg, LoadSystemConfig(sysPath), nil
}

// Parse decodes and validates a config.json payload.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadSystemConfig loads system settings, returning defaults if it fails.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(jsonc.ToJSON(file), cfg); err != nil {
		return DefaultSystemConfig()
	}

	return cfg
}
