// Package config loads and holds NeoMAGI's runtime configuration.
//
// Adapted from the teacher's internal/config package: a JSON5-tolerant file
// layered under environment-variable overrides for secrets, guarded by a
// mutex so a running gateway can reload config without racing readers.
package config

import (
	"sync"
)

// Config is the root configuration for the NeoMAGI gateway.
type Config struct {
	Workspace string          `json:"workspace"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Providers ProvidersConfig `json:"providers"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Curator   CuratorConfig   `json:"curator,omitempty"`

	mu sync.RWMutex
}

// DatabaseConfig configures Postgres, the sole coordination substrate.
// PostgresDSN is NEVER read from the config file — only from env
// NEOMAGI_POSTGRES_DSN, matching the teacher's own DatabaseConfig comment.
type DatabaseConfig struct {
	PostgresDSN    string `json:"-"`
	MigrationsPath string `json:"migrations_path,omitempty"`
}

// GatewayConfig configures the inbound RPC transport.
type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Token           string `json:"-"` // from env NEOMAGI_GATEWAY_TOKEN only
	MaxMessageChars int    `json:"max_message_chars"`
	RateLimitRPM    int    `json:"rate_limit_rpm"`
}

// RuntimeConfig holds the behavior-changing knobs from spec §6.
type RuntimeConfig struct {
	// LockTTLSeconds is the age above which a session claim may be preempted.
	LockTTLSeconds int `json:"lock_ttl_seconds"`

	// ContextLimit, ReservedOutputTokens and SafetyMarginTokens define
	// usable budget = limit - reserved - margin.
	ContextLimit         int `json:"context_limit"`
	ReservedOutputTokens int `json:"reserved_output_tokens"`
	SafetyMarginTokens   int `json:"safety_margin_tokens"`

	// WarnRatio and CompactRatio are thresholds against usable budget;
	// WarnRatio must be strictly less than CompactRatio.
	WarnRatio    float64 `json:"warn_ratio"`
	CompactRatio float64 `json:"compact_ratio"`

	// MinPreservedTurns lower-bounds the retained completed turns.
	MinPreservedTurns int `json:"min_preserved_turns"`

	// FlushTimeoutSeconds and CompactTimeoutSeconds bound extraction and
	// summarization respectively.
	FlushTimeoutSeconds   int `json:"flush_timeout_seconds"`
	CompactTimeoutSeconds int `json:"compact_timeout_seconds"`

	// MaxFlushCandidates caps the candidates in a single flush batch.
	// MaxCandidateBytes is loaded but not read by the flush path; the
	// per-candidate text cap is MaxCandidateTextBytes.
	MaxFlushCandidates int `json:"max_flush_candidates"`
	MaxCandidateBytes  int `json:"max_candidate_bytes"`

	// MaxCompactionsPerRequest is the reentry cap within a single turn.
	MaxCompactionsPerRequest int `json:"max_compactions_per_request"`

	// SummaryTemperature controls LLM determinism for summarization.
	SummaryTemperature float64 `json:"summary_temperature"`

	// AnchorRetryEnabled controls whether anchor-visibility failure during
	// compaction triggers one regeneration retry.
	AnchorRetryEnabled bool `json:"anchor_retry_enabled"`

	// DefaultMode and DMScopePolicy set the session-mode default and the
	// scope-resolver policy name.
	DefaultMode   string `json:"default_mode"`
	DMScopePolicy string `json:"dm_scope_policy"`

	// MaxToolIterations bounds the Agent Loop's per-turn tool-call rounds.
	MaxToolIterations int `json:"max_tool_iterations"`

	// BudgetWarnEUR and BudgetStopEUR are the fixed € thresholds for
	// log-only warn and hard stop in the Budget Gate.
	BudgetWarnEUR float64 `json:"budget_warn_eur"`
	BudgetStopEUR float64 `json:"budget_stop_eur"`

	// DefaultReservationEUR is the fixed per-request cost reserved at
	// dispatch time, ahead of knowing the actual provider usage.
	DefaultReservationEUR float64 `json:"default_reservation_eur"`

	// MaxCandidateTextBytes bounds a single memory-flush candidate's text.
	MaxCandidateTextBytes int `json:"max_candidate_text_bytes"`

	// DailyNoteByteBudget bounds a single daily-notes file before writes
	// start failing with MemoryWriteError.
	DailyNoteByteBudget int `json:"daily_note_byte_budget"`
}

// ProvidersConfig maps provider name to its credentials and default model.
// Concrete provider HTTP clients are out of scope (spec §1): the core only
// depends on an abstract streaming model client (internal/providers.Provider).
type ProvidersConfig struct {
	Default string                  `json:"default"`
	List    map[string]ProviderSpec `json:"list,omitempty"`
}

// ProviderSpec is one provider's connection info.
type ProviderSpec struct {
	APIKey  string `json:"-"` // from env NEOMAGI_{NAME}_API_KEY only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model"`
}

// TelegramConfig configures the Telegram long-poll channel adapter.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"` // from env NEOMAGI_TELEGRAM_TOKEN only
}

// TelemetryConfig configures OpenTelemetry span export for the Agent Loop,
// model calls, tool calls, and compaction runs.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// CuratorConfig configures the auxiliary Memory Curator's own schedule.
// Scheduling is "left to the caller" per spec §9 — this only validates the
// cron expression so an unvalidated string isn't a silent footgun.
type CuratorConfig struct {
	Enabled          bool   `json:"enabled,omitempty"`
	Schedule         string `json:"schedule,omitempty"` // cron expression, validated with gronx
	RetentionDays    int    `json:"retention_days,omitempty"`
	CuratedFileName  string `json:"curated_file_name,omitempty"`
	CuratedMaxTokens int    `json:"curated_max_tokens,omitempty"` // MEMORY.md size limit
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Workspace = src.Workspace
	c.Database = src.Database
	c.Gateway = src.Gateway
	c.Runtime = src.Runtime
	c.Providers = src.Providers
	c.Telegram = src.Telegram
	c.Telemetry = src.Telemetry
	c.Curator = src.Curator
}

// Snapshot returns a copy of c safe to read without holding the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Workspace: c.Workspace,
		Database:  c.Database,
		Gateway:   c.Gateway,
		Runtime:   c.Runtime,
		Providers: c.Providers,
		Telegram:  c.Telegram,
		Telemetry: c.Telemetry,
		Curator:   c.Curator,
	}
}
