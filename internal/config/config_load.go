package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults matching spec §6.
func Default() *Config {
	return &Config{
		Workspace: "~/.neomagi/workspace",
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Runtime: RuntimeConfig{
			LockTTLSeconds:           120,
			ContextLimit:             200000,
			ReservedOutputTokens:     8192,
			SafetyMarginTokens:       2000,
			WarnRatio:                0.75,
			CompactRatio:             0.90,
			MinPreservedTurns:        4,
			FlushTimeoutSeconds:      10,
			CompactTimeoutSeconds:    30,
			MaxFlushCandidates:       20,
			MaxCandidateBytes:        2000,
			MaxCompactionsPerRequest: 1,
			SummaryTemperature:       0.2,
			AnchorRetryEnabled:       true,
			DefaultMode:              "chat_safe",
			DMScopePolicy:            "per-channel-peer",
			MaxToolIterations:        20,
			BudgetWarnEUR:            20.00,
			BudgetStopEUR:            25.00,
			DefaultReservationEUR:    0.05,
			MaxCandidateTextBytes:    500,
			DailyNoteByteBudget:      1 << 20,
		},
		Providers: ProvidersConfig{
			Default: "anthropic",
		},
		Curator: CuratorConfig{
			RetentionDays:    7,
			CuratedFileName:  "MEMORY.md",
			CuratedMaxTokens: 4000,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: Default() plus env overrides is a valid config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only source for secrets.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("NEOMAGI_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("NEOMAGI_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("NEOMAGI_TELEGRAM_TOKEN", &c.Telegram.Token)
	if c.Telegram.Token != "" {
		c.Telegram.Enabled = true
	}

	if c.Providers.List == nil {
		c.Providers.List = map[string]ProviderSpec{}
	}
	for _, name := range []string{"anthropic", "openai", "gemini", "dashscope"} {
		spec := c.Providers.List[name]
		envStr(fmt.Sprintf("NEOMAGI_%s_API_KEY", envUpper(name)), &spec.APIKey)
		c.Providers.List[name] = spec
	}

	if v := os.Getenv("NEOMAGI_PROVIDER"); v != "" {
		c.Providers.Default = v
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

func envUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
