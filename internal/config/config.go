package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// maxExactID is the largest integer a JSON number can carry without losing
// precision once decoded as float64. Discord snowflakes exceed it.
const maxExactID = 1 << 53

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Numeric ids too large to survive float64 decoding are rejected; quote them.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			if val >= maxExactID || val <= -maxExactID {
				return fmt.Errorf("numeric id %.0f loses precision, write it as a string", val)
			}
			result = append(result, strconv.FormatFloat(val, 'f', 0, 64))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the chorus gateway.
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Bots      BotsConfig      `json:"bots"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Debug     DebugConfig     `json:"debug,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Journal   JournalConfig   `json:"journal,omitempty"`
}

// DiscordConfig configures the Discord gateway connection and webhook delivery.
type DiscordConfig struct {
	Enabled     bool                `json:"enabled"`
	Token       string              `json:"token"`                  // bot token; prefer CHORUS_DISCORD_TOKEN
	Listen      FlexibleStringSlice `json:"listen,omitempty"`       // channel ids to listen in (empty = all)
	WebhookName string              `json:"webhook_name,omitempty"` // name of the webhook created per channel (default "chorus")
	SendEvery   string              `json:"send_every,omitempty"`   // min interval between deliveries per channel (default "400ms", Go duration)
	SendBurst   int                 `json:"send_burst,omitempty"`   // deliveries allowed at once per channel (default 5)
	MemberCache string              `json:"member_cache,omitempty"` // how long guild member lists are cached (default "5m")
}

// SendInterval parses SendEvery, falling back to 400ms.
func (d DiscordConfig) SendInterval() time.Duration {
	return parseDuration(d.SendEvery, 400*time.Millisecond)
}

// MemberCacheTTL parses MemberCache, falling back to five minutes.
func (d DiscordConfig) MemberCacheTTL() time.Duration {
	return parseDuration(d.MemberCache, 5*time.Minute)
}

// BotsConfig points at the bot definitions file.
type BotsConfig struct {
	File     string   `json:"file"`               // YAML bot definitions (default "~/.chorus/bots.yaml")
	Watch    bool     `json:"watch,omitempty"`    // reload definitions when the file changes
	Timezone string   `json:"timezone,omitempty"` // IANA zone for schedule conditions (default local)
	Personas []string `json:"personas,omitempty"` // extra names recognised by automated conditions
}

// Location resolves Timezone. An empty zone is time.Local.
func (b BotsConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bots.timezone: %w", err)
	}
	return loc, nil
}

// DispatchConfig bounds per-message work.
type DispatchConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"` // bots evaluated at once per message (default 8, 1 = sequential)
	Timeout       string `json:"timeout,omitempty"`        // per-message deadline (default "30s", Go duration)
	Buffer        int    `json:"buffer,omitempty"`         // inbound queue size (default 256)
}

// TimeoutDuration parses Timeout, falling back to 30s.
func (d DispatchConfig) TimeoutDuration() time.Duration {
	return parseDuration(d.Timeout, 30*time.Second)
}

// DebugConfig enables the staging override: probability conditions always
// match and deliveries only reach whitelisted channels.
type DebugConfig struct {
	Enabled  bool                `json:"enabled,omitempty"`
	Channels FlexibleStringSlice `json:"channels,omitempty"` // delivery whitelist while enabled
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // "debug", "info" (default), "warn", "error"
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// TelemetryConfig configures OpenTelemetry export for dispatch traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317", "otel.example.com:4318")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext connection (local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "chorus-gateway")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// JournalConfig configures the dispatch journal.
// PostgresDSN is never read from config.json, only from env CHORUS_JOURNAL_DSN.
type JournalConfig struct {
	Driver      string `json:"driver,omitempty"` // "" (disabled), "sqlite" or "postgres"
	Path        string `json:"path,omitempty"`   // sqlite file (default "~/.chorus/journal.db")
	PostgresDSN string `json:"-"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
