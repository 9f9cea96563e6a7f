package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"notifybridge/internal/common"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Worker         WorkerConfig         `mapstructure:"worker"`
	Auth           AuthConfig           `mapstructure:"auth"`
	CORS           CORSConfig           `mapstructure:"cors"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Log            LogConfig            `mapstructure:"log"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Supabase       SupabaseConfig       `mapstructure:"supabase"`
	Store          StoreConfig          `mapstructure:"store"`
	Discord        DiscordConfig        `mapstructure:"discord"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Lobby          LobbyConfig          `mapstructure:"lobby"`
	CompletedGames CompletedGamesConfig `mapstructure:"completed_games"`
	Reminders      RemindersConfig      `mapstructure:"reminders"`
	GC             GCConfig             `mapstructure:"gc"`
}

// ServerConfig holds admin API settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// WorkerConfig holds the worker's health and metrics listener.
type WorkerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds admin API rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	IdleTTLSec        int     `mapstructure:"idle_ttl_sec"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// StoreConfig selects the record store backend: supabase, redis or memory.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DiscordConfig holds the bot credentials and outbound pacing.
type DiscordConfig struct {
	Token             string  `mapstructure:"token"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	Footer            string  `mapstructure:"footer"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
	UniqueSec   int `mapstructure:"unique_sec"`
}

// SchedulerConfig holds loop scheduling settings.
type SchedulerConfig struct {
	SkipLogIntervalSec int `mapstructure:"skip_log_interval_sec"`
}

// LobbyConfig configures the lobby announcement loop.
type LobbyConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ChannelID       string `mapstructure:"channel_id"`
	APIBase         string `mapstructure:"api_base"`
	MapPrefix       string `mapstructure:"map_prefix"`
	IntervalSec     int    `mapstructure:"interval_sec"`
	TimeoutSec      int    `mapstructure:"timeout_sec"`
	RetireGraceSec  int    `mapstructure:"retire_grace_sec"`
	ActiveWindowSec int    `mapstructure:"active_window_sec"`
	GCIntervalSec   int    `mapstructure:"gc_interval_sec"`
	GCRetentionSec  int    `mapstructure:"gc_retention_sec"`
}

// CompletedGamesConfig configures the completed game announcement loop.
type CompletedGamesConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ChannelID       string `mapstructure:"channel_id"`
	APIBase         string `mapstructure:"api_base"`
	Limit           int    `mapstructure:"limit"`
	IntervalSec     int    `mapstructure:"interval_sec"`
	TimeoutSec      int    `mapstructure:"timeout_sec"`
	ActiveWindowSec int    `mapstructure:"active_window_sec"`
	GCIntervalSec   int    `mapstructure:"gc_interval_sec"`
	GCRetentionSec  int    `mapstructure:"gc_retention_sec"`
}

// RemindersConfig configures the reminder direct message loop.
type RemindersConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	APIBase         string `mapstructure:"api_base"`
	Limit           int    `mapstructure:"limit"`
	IntervalSec     int    `mapstructure:"interval_sec"`
	TimeoutSec      int    `mapstructure:"timeout_sec"`
	LeadSec         int    `mapstructure:"lead_sec"`
	MaxLookbackSec  int    `mapstructure:"max_lookback_sec"`
	HorizonSec      int    `mapstructure:"horizon_sec"`
	ActiveWindowSec int    `mapstructure:"active_window_sec"`
	MaxPerHour      int    `mapstructure:"max_per_hour"`
	GCIntervalSec   int    `mapstructure:"gc_interval_sec"`
	GCRetentionSec  int    `mapstructure:"gc_retention_sec"`
}

// GCConfig holds collector settings shared by every instance. Cadence and
// retention are set per instance in the loop sections.
type GCConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// Seconds converts a *_sec setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Interval returns the lobby poll interval.
func (c LobbyConfig) Interval() time.Duration { return Seconds(c.IntervalSec) }

// Interval returns the completed game poll interval.
func (c CompletedGamesConfig) Interval() time.Duration { return Seconds(c.IntervalSec) }

// Interval returns the reminder poll interval.
func (c RemindersConfig) Interval() time.Duration { return Seconds(c.IntervalSec) }

// Collector returns how often an instance's collector runs and how long its
// records are kept. Unknown instances get zero durations.
func (c *Config) Collector(instance string) (interval, retention time.Duration) {
	switch instance {
	case LoopLobby:
		return Seconds(c.Lobby.GCIntervalSec), Seconds(c.Lobby.GCRetentionSec)
	case LoopCompletedGame:
		return Seconds(c.CompletedGames.GCIntervalSec), Seconds(c.CompletedGames.GCRetentionSec)
	case LoopReminder:
		return Seconds(c.Reminders.GCIntervalSec), Seconds(c.Reminders.GCRetentionSec)
	}
	return 0, 0
}

// SlogLevel maps log.level to a slog level; unknown values fall back to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the NOTIFYBRIDGE_ prefix and underscore separators.
// Example: NOTIFYBRIDGE_LOBBY_CHANNEL_ID overrides lobby.channel_id in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("NOTIFYBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Comma-separated API keys from env var arrive as one string
	cfg.Auth.APIKeys = splitList(strings.Join(cfg.Auth.APIKeys, ","))
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "release")
	v.SetDefault("worker.port", 9090)
	v.SetDefault("auth.api_keys", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST"})
	v.SetDefault("cors.allowed_headers", []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"})
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.idle_ttl_sec", 600)
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.service_key", "")
	v.SetDefault("store.backend", "supabase")
	v.SetDefault("store.key_prefix", "notifybridge")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.requests_per_second", 5)
	v.SetDefault("discord.burst", 5)
	v.SetDefault("discord.footer", "Island Troll Tribes")
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.unique_sec", 30)
	v.SetDefault("scheduler.skip_log_interval_sec", 300)

	v.SetDefault("lobby.enabled", true)
	v.SetDefault("lobby.channel_id", "")
	v.SetDefault("lobby.api_base", "https://api.wc3stats.com")
	v.SetDefault("lobby.map_prefix", "island.troll.tribes")
	v.SetDefault("lobby.interval_sec", 30)
	v.SetDefault("lobby.timeout_sec", 10)
	v.SetDefault("lobby.retire_grace_sec", 180)
	v.SetDefault("lobby.active_window_sec", 3600)
	v.SetDefault("lobby.gc_interval_sec", 86400)
	v.SetDefault("lobby.gc_retention_sec", 86400)

	v.SetDefault("completed_games.enabled", true)
	v.SetDefault("completed_games.channel_id", "")
	v.SetDefault("completed_games.api_base", "")
	v.SetDefault("completed_games.limit", 20)
	v.SetDefault("completed_games.interval_sec", 60)
	v.SetDefault("completed_games.timeout_sec", 10)
	v.SetDefault("completed_games.active_window_sec", 86400)
	v.SetDefault("completed_games.gc_interval_sec", 604800)
	v.SetDefault("completed_games.gc_retention_sec", 604800)

	v.SetDefault("reminders.enabled", true)
	v.SetDefault("reminders.api_base", "")
	v.SetDefault("reminders.limit", 100)
	v.SetDefault("reminders.interval_sec", 60)
	v.SetDefault("reminders.timeout_sec", 10)
	v.SetDefault("reminders.lead_sec", 600)
	v.SetDefault("reminders.max_lookback_sec", 900)
	v.SetDefault("reminders.horizon_sec", 86400)
	v.SetDefault("reminders.active_window_sec", 172800)
	v.SetDefault("reminders.max_per_hour", 10)
	v.SetDefault("reminders.gc_interval_sec", 86400)
	v.SetDefault("reminders.gc_retention_sec", 604800)

	v.SetDefault("gc.batch_size", 500)
}

// Validate reports, per loop, the settings that keep the loop from running.
// A loop with errors is disabled; the others still start.
func (c *Config) Validate() map[string][]error {
	problems := make(map[string][]error)
	missing := func(loop, key, value string) {
		if strings.TrimSpace(value) == "" {
			problems[loop] = append(problems[loop], common.NewConfigurationMissingError(loop, key))
		}
	}
	positive := func(loop, key string, n int) {
		if n <= 0 {
			problems[loop] = append(problems[loop], common.NewConfigurationMissingError(loop, key))
		}
	}

	if c.Lobby.Enabled {
		missing(LoopLobby, "discord.token", c.Discord.Token)
		missing(LoopLobby, "lobby.channel_id", c.Lobby.ChannelID)
		missing(LoopLobby, "lobby.api_base", c.Lobby.APIBase)
		positive(LoopLobby, "lobby.interval_sec", c.Lobby.IntervalSec)
	}
	if c.CompletedGames.Enabled {
		missing(LoopCompletedGame, "discord.token", c.Discord.Token)
		missing(LoopCompletedGame, "completed_games.channel_id", c.CompletedGames.ChannelID)
		missing(LoopCompletedGame, "completed_games.api_base", c.CompletedGames.APIBase)
		positive(LoopCompletedGame, "completed_games.interval_sec", c.CompletedGames.IntervalSec)
	}
	if c.Reminders.Enabled {
		missing(LoopReminder, "discord.token", c.Discord.Token)
		missing(LoopReminder, "reminders.api_base", c.Reminders.APIBase)
		positive(LoopReminder, "reminders.interval_sec", c.Reminders.IntervalSec)
	}

	// Collectors run whether or not their loop is enabled.
	positive(CollectorLoop(LoopLobby), "lobby.gc_interval_sec", c.Lobby.GCIntervalSec)
	positive(CollectorLoop(LoopCompletedGame), "completed_games.gc_interval_sec", c.CompletedGames.GCIntervalSec)
	positive(CollectorLoop(LoopReminder), "reminders.gc_interval_sec", c.Reminders.GCIntervalSec)

	switch c.Store.Backend {
	case "supabase":
		missing("store", "supabase.url", c.Supabase.URL)
		missing("store", "supabase.service_key", c.Supabase.ServiceKey)
	case "redis":
		missing("store", "redis.address", c.Redis.Address)
	case "memory":
	default:
		problems["store"] = append(problems["store"], fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	return problems
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Loop names as registered with the worker's scheduler.
const (
	LoopLobby         = "lobby"
	LoopCompletedGame = "completed_game"
	LoopReminder      = "reminder"
)

// CollectorLoop names the garbage collection loop of an instance.
func CollectorLoop(instance string) string {
	return instance + "-gc"
}

// LoopNames lists the loops the worker runs with this configuration:
// every enabled, fully configured notification loop plus the collector of
// every instance whose gc interval is set.
func (c *Config) LoopNames() []string {
	problems := c.Validate()
	if len(problems["store"]) > 0 {
		return nil
	}
	enabled := map[string]bool{
		LoopLobby:         c.Lobby.Enabled,
		LoopCompletedGame: c.CompletedGames.Enabled,
		LoopReminder:      c.Reminders.Enabled,
	}

	var names []string
	for _, loop := range []string{LoopLobby, LoopCompletedGame, LoopReminder} {
		if enabled[loop] && len(problems[loop]) == 0 {
			names = append(names, loop)
		}
	}
	for _, loop := range []string{LoopLobby, LoopCompletedGame, LoopReminder} {
		if gc := CollectorLoop(loop); len(problems[gc]) == 0 {
			names = append(names, gc)
		}
	}
	return names
}
