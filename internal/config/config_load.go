package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			WebhookName: "chorus",
			SendEvery:   "400ms",
			SendBurst:   5,
			MemberCache: "5m",
		},
		Bots: BotsConfig{
			File: "~/.chorus/bots.yaml",
		},
		Dispatch: DispatchConfig{
			MaxConcurrent: 8,
			Timeout:       "30s",
			Buffer:        256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Journal: JournalConfig{
			Path: "~/.chorus/journal.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("CHORUS_DISCORD_TOKEN", &c.Discord.Token)
	if c.Discord.Token != "" && os.Getenv("CHORUS_DISCORD_TOKEN") != "" {
		c.Discord.Enabled = true
	}

	envStr("CHORUS_BOTS_FILE", &c.Bots.File)
	envBool("CHORUS_BOTS_WATCH", &c.Bots.Watch)
	envStr("CHORUS_TIMEZONE", &c.Bots.Timezone)

	envBool("CHORUS_DEBUG", &c.Debug.Enabled)
	if v := os.Getenv("CHORUS_DEBUG_CHANNELS"); v != "" {
		c.Debug.Channels = strings.Split(v, ",")
	}

	envStr("CHORUS_DISPATCH_TIMEOUT", &c.Dispatch.Timeout)
	if v := os.Getenv("CHORUS_DISPATCH_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.MaxConcurrent = n
		}
	}

	envStr("CHORUS_LOG_LEVEL", &c.Logging.Level)
	envStr("CHORUS_LOG_FORMAT", &c.Logging.Format)

	// Telemetry
	envStr("CHORUS_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CHORUS_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CHORUS_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("CHORUS_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("CHORUS_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Journal
	envStr("CHORUS_JOURNAL_DRIVER", &c.Journal.Driver)
	envStr("CHORUS_JOURNAL_PATH", &c.Journal.Path)
	envStr("CHORUS_JOURNAL_DSN", &c.Journal.PostgresDSN)
}

// BotsPath returns the expanded bot definitions path.
func (c *Config) BotsPath() string {
	return ExpandHome(c.Bots.File)
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
