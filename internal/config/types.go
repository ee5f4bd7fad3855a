package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5h").
// Zero or omitted values fall back to the defaults listed on each section.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram" yaml:"telegram"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Watch         WatchConfig         `json:"watch" yaml:"watch"`
	Source        SourceConfig        `json:"source" yaml:"source"`
	Notifier      NotifierConfig      `json:"notifier" yaml:"notifier"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via CTFWATCH_TELEGRAM_TOKEN.
	Token       string `json:"token" yaml:"token"`
	PollTimeout string `json:"poll_timeout,omitempty" yaml:"poll_timeout,omitempty"`
	// APIURL points at a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// StorageConfig selects the persistence backend: "file" (default),
// "sqlite", or "memory" for throwaway runs.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./ctfwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // sqlite only
}

// WatchConfig tunes the scan loop.
//
// Defaults:
//   - interval: "300s"
//   - fetch_limit: 20
//   - hour_window: "5h"
//   - upcoming_limit: 5
//   - upcoming_window: "168h"
//   - now_lookback: "168h"
//   - ledger_retention: "720h"
//   - eviction_schedule: "@every 1h" ("off" disables eviction)
//   - fire_concurrency: 8
type WatchConfig struct {
	Interval         string `json:"interval,omitempty" yaml:"interval,omitempty"`
	FetchLimit       int    `json:"fetch_limit,omitempty" yaml:"fetch_limit,omitempty"`
	HourWindow       string `json:"hour_window,omitempty" yaml:"hour_window,omitempty"`
	UpcomingLimit    int    `json:"upcoming_limit,omitempty" yaml:"upcoming_limit,omitempty"`
	UpcomingWindow   string `json:"upcoming_window,omitempty" yaml:"upcoming_window,omitempty"`
	NowLookback      string `json:"now_lookback,omitempty" yaml:"now_lookback,omitempty"`
	LedgerRetention  string `json:"ledger_retention,omitempty" yaml:"ledger_retention,omitempty"`
	EvictionSchedule string `json:"eviction_schedule,omitempty" yaml:"eviction_schedule,omitempty"`
	FireConcurrency  int    `json:"fire_concurrency,omitempty" yaml:"fire_concurrency,omitempty"`
}

// SourceConfig configures the CTFtime client.
type SourceConfig struct {
	BaseURL         string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Timeout         string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	UserAgent       string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	RosterCacheTTL  string  `json:"roster_cache_ttl,omitempty" yaml:"roster_cache_ttl,omitempty"`
	RosterCacheSize int     `json:"roster_cache_size,omitempty" yaml:"roster_cache_size,omitempty"`
}

type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty" yaml:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty" yaml:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty" yaml:"retry_max_delay,omitempty"`
}

// ObservabilityConfig controls the metrics/pprof HTTP server.
//
// Prefer a loopback address; pprof exposes heap contents.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"` // default: "127.0.0.1:9464"
	Pprof   bool   `json:"pprof,omitempty" yaml:"pprof,omitempty"`
}

const (
	DefaultObservabilityAddr = "127.0.0.1:9464"
	DefaultEvictionSchedule  = "@every 1h"
)
