// Package config loads and validates the runtime's single settings record
// (spec.md §6.5). Config is grouped by subsystem; each group owns its own
// SetDefaults/Validate pair, mirroring the teacher's per-section config
// style.
package config

import (
	"fmt"
	"time"
)

// Config is the root settings record. Every tunable named in spec.md §6.5
// is reachable from here.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Storage    StorageConfig    `yaml:"storage"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Admin      AdminConfig      `yaml:"admin"`
	Tools      ToolsConfig      `yaml:"tools"`
	Memory     MemoryConfig     `yaml:"memory"`
	Log        LogConfig        `yaml:"log"`
}

// LLMConfig groups model-provider tunables.
type LLMConfig struct {
	DefaultProvider string                      `yaml:"default_provider"`
	DefaultModel    string                      `yaml:"default_model"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig is a single provider's credentials/limits.
type LLMProviderConfig struct {
	Type        string  `yaml:"type"` // anthropic | openai
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// StorageConfig groups storage-root and per-workspace overrides.
type StorageConfig struct {
	Root               string            `yaml:"root"`
	PathOverrides       map[string]string `yaml:"path_overrides,omitempty"`
	PostgresDSN         string            `yaml:"postgres_dsn,omitempty"`
	AllowedExtensions   []string          `yaml:"allowed_extensions"`
	MaxFileSizeMB       int               `yaml:"max_file_size_mb"`
}

// MiddlewareConfig enables/configures the middleware pipeline (C5).
type MiddlewareConfig struct {
	SummarizationEnabled  bool `yaml:"summarization_enabled"`
	SummaryMessageKeep    int  `yaml:"summary_message_keep"`
	ContextWindowMaxTokens int `yaml:"context_window_max_tokens"`
	ContextEditTriggerTokens int `yaml:"context_edit_trigger_tokens"`
	ContextEditKeepToolUses  int `yaml:"context_edit_keep_tool_uses"`
	ModelCallLimit        int  `yaml:"model_call_limit"`
	ToolCallLimit         int  `yaml:"tool_call_limit"`
	RetryMaxAttempts      int  `yaml:"retry_max_attempts"`
	LoopBreakMaxRetries   int  `yaml:"loop_break_max_retries"`
	LoopBreakWindowSeconds int `yaml:"loop_break_window_seconds"`
	MemoryTopN            int `yaml:"memory_top_n"`
}

// SchedulerConfig controls the cron/reminder tick loop (C7).
type SchedulerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`
	ToolTimeoutSeconds  int `yaml:"tool_timeout_seconds"`
}

// ChannelsConfig groups per-channel transport settings (C6).
type ChannelsConfig struct {
	HTTP     HTTPChannelConfig     `yaml:"http"`
	Telegram TelegramChannelConfig `yaml:"telegram"`
	Discord  DiscordChannelConfig  `yaml:"discord"`
}

type HTTPChannelConfig struct {
	Addr        string `yaml:"addr"`
	RequireUser bool   `yaml:"require_user"`
}

type TelegramChannelConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BotToken        string `yaml:"bot_token"`
	MaxMessageChars int    `yaml:"max_message_chars"`
}

type DiscordChannelConfig struct {
	Enabled         bool   `yaml:"enabled"`
	BotToken        string `yaml:"bot_token"`
	MaxMessageChars int    `yaml:"max_message_chars"`
}

// AdminConfig lists admin user ids permitted to run reset/management
// commands (spec.md §4.6).
type AdminConfig struct {
	UserIDs []string `yaml:"user_ids"`
}

// ToolsConfig enables built-in tools and configures OCR/MCP endpoints.
type ToolsConfig struct {
	OCREngine      string            `yaml:"ocr_engine"`
	DefaultTimeout time.Duration     `yaml:"default_timeout"`
	ReminderLookupTimeout time.Duration `yaml:"reminder_lookup_timeout"`
	MCPEndpoints   map[string]string `yaml:"mcp_endpoints,omitempty"`
	SearxngHost    string            `yaml:"searxng_host,omitempty"`
	WebFetchTimeoutSeconds int       `yaml:"web_fetch_timeout_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MemoryConfig selects and configures the semantic vector index layered on
// top of each workspace's keyword-ranked memory search (C9). Backend
// "chromem" (the default) is an embedded, per-workspace index with no
// external dependency; "qdrant" points every workspace at collections on
// one shared remote Qdrant server instead, for deployments large enough
// that an embedded index per workspace stops being practical.
type MemoryConfig struct {
	VectorBackend string       `yaml:"vector_backend"` // chromem | qdrant
	Qdrant        QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig points at a Qdrant server when Memory.VectorBackend is
// "qdrant".
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

// SetDefaults fills unset fields with the runtime's documented defaults.
func (c *Config) SetDefaults() {
	if c.Storage.Root == "" {
		c.Storage.Root = "./data"
	}
	if len(c.Storage.AllowedExtensions) == 0 {
		c.Storage.AllowedExtensions = []string{".txt", ".md", ".json", ".csv", ".yaml", ".yml", ".log"}
	}
	if c.Storage.MaxFileSizeMB == 0 {
		c.Storage.MaxFileSizeMB = 20
	}
	if c.Middleware.SummaryMessageKeep == 0 {
		c.Middleware.SummaryMessageKeep = 10
	}
	if c.Middleware.ContextWindowMaxTokens == 0 {
		c.Middleware.ContextWindowMaxTokens = 100_000
	}
	if c.Middleware.ContextEditTriggerTokens == 0 {
		c.Middleware.ContextEditTriggerTokens = 80_000
	}
	if c.Middleware.ContextEditKeepToolUses == 0 {
		c.Middleware.ContextEditKeepToolUses = 10
	}
	if c.Middleware.ModelCallLimit == 0 {
		c.Middleware.ModelCallLimit = 40
	}
	if c.Middleware.ToolCallLimit == 0 {
		c.Middleware.ToolCallLimit = 60
	}
	if c.Middleware.RetryMaxAttempts == 0 {
		c.Middleware.RetryMaxAttempts = 3
	}
	if c.Middleware.LoopBreakMaxRetries == 0 {
		c.Middleware.LoopBreakMaxRetries = 4
	}
	if c.Middleware.LoopBreakWindowSeconds == 0 {
		c.Middleware.LoopBreakWindowSeconds = 30
	}
	if c.Middleware.MemoryTopN == 0 {
		c.Middleware.MemoryTopN = 5
	}
	if c.Scheduler.TickIntervalSeconds == 0 {
		c.Scheduler.TickIntervalSeconds = 30
	}
	if c.Scheduler.ToolTimeoutSeconds == 0 {
		c.Scheduler.ToolTimeoutSeconds = 45
	}
	if c.Channels.HTTP.Addr == "" {
		c.Channels.HTTP.Addr = ":8080"
	}
	if c.Channels.Telegram.MaxMessageChars == 0 {
		c.Channels.Telegram.MaxMessageChars = 4096
	}
	if c.Channels.Discord.MaxMessageChars == 0 {
		c.Channels.Discord.MaxMessageChars = 2000
	}
	if c.Tools.DefaultTimeout == 0 {
		c.Tools.DefaultTimeout = 45 * time.Second
	}
	if c.Tools.ReminderLookupTimeout == 0 {
		c.Tools.ReminderLookupTimeout = 25 * time.Second
	}
	if c.Tools.WebFetchTimeoutSeconds == 0 {
		c.Tools.WebFetchTimeoutSeconds = 15
	}
	if c.Memory.VectorBackend == "" {
		c.Memory.VectorBackend = "chromem"
	}
	if c.Memory.Qdrant.Host == "" {
		c.Memory.Qdrant.Host = "localhost"
	}
	if c.Memory.Qdrant.Port == 0 {
		c.Memory.Qdrant.Port = 6334
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate fails fast on configuration that the runtime cannot start with,
// returning a plain error that names the offending key.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider is required")
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q has no matching entry under llm.providers", c.LLM.DefaultProvider)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	switch c.Memory.VectorBackend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("memory.vector_backend must be %q or %q, got %q", "chromem", "qdrant", c.Memory.VectorBackend)
	}
	return nil
}
