package app

import (
	"fmt"
	"strings"
	"time"

	"ctfwatch/internal/config"
	"ctfwatch/internal/ctftime"
	"ctfwatch/internal/notifier"
	"ctfwatch/internal/observability"
	"ctfwatch/internal/storage"
	"ctfwatch/internal/transport/telegram"
	"ctfwatch/internal/watch"
	logx "ctfwatch/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

// MapStorage converts the storage section; the CLI uses it to open the
// store without starting the bot.
func MapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = "./ctfwatch_state"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "none":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapWatch(cfg *config.Config) (watch.Config, error) {
	w := cfg.Watch
	var (
		out watch.Config
		err error
	)
	durs := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"watch.interval", w.Interval, &out.Interval},
		{"watch.hour_window", w.HourWindow, &out.HourWindow},
		{"watch.upcoming_window", w.UpcomingWindow, &out.UpcomingWindow},
		{"watch.now_lookback", w.NowLookback, &out.NowLookback},
		{"watch.ledger_retention", w.LedgerRetention, &out.LedgerRetention},
	}
	for _, d := range durs {
		if *d.dst, err = config.Duration(d.path, d.raw, 0); err != nil {
			return watch.Config{}, err
		}
	}
	out.FetchLimit = w.FetchLimit
	out.UpcomingLimit = w.UpcomingLimit
	out.FireConcurrency = w.FireConcurrency

	switch spec := strings.TrimSpace(w.EvictionSchedule); {
	case spec == "":
		out.EvictionSchedule = config.DefaultEvictionSchedule
	case strings.EqualFold(spec, "off"):
		out.EvictionSchedule = ""
	default:
		out.EvictionSchedule = spec
	}
	return out, nil
}

func mapSource(cfg *config.Config) (ctftime.Config, error) {
	s := cfg.Source
	timeout, err := config.Duration("source.timeout", s.Timeout, 0)
	if err != nil {
		return ctftime.Config{}, err
	}
	ttl, err := config.Duration("source.roster_cache_ttl", s.RosterCacheTTL, 0)
	if err != nil {
		return ctftime.Config{}, err
	}
	return ctftime.Config{
		BaseURL:         strings.TrimSpace(s.BaseURL),
		Timeout:         timeout,
		RatePerSec:      s.RatePerSec,
		UserAgent:       strings.TrimSpace(s.UserAgent),
		RosterCacheTTL:  ttl,
		RosterCacheSize: s.RosterCacheSize,
	}, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	base, err := config.Duration("notifier.retry_base", n.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.Duration("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := n.RetryMax
	if retryMax == 0 {
		retryMax = 2
	}
	return notifier.Config{
		RatePerSec:    n.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapObservability(cfg *config.Config) observability.ServerConfig {
	addr := strings.TrimSpace(cfg.Observability.Addr)
	if addr == "" {
		addr = config.DefaultObservabilityAddr
	}
	return observability.ServerConfig{Addr: addr, Pprof: cfg.Observability.Pprof}
}
