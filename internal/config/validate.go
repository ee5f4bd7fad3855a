package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports every invalid field at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := Duration(path, raw, 0)
		add(err)
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvToken))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3", "memory", "none":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	w := cfg.Watch
	dur("watch.interval", w.Interval)
	dur("watch.hour_window", w.HourWindow)
	dur("watch.upcoming_window", w.UpcomingWindow)
	dur("watch.now_lookback", w.NowLookback)
	dur("watch.ledger_retention", w.LedgerRetention)
	if spec := strings.TrimSpace(w.EvictionSchedule); spec != "" && !strings.EqualFold(spec, "off") {
		if _, err := cronParser.Parse(spec); err != nil {
			add(fmt.Errorf("watch.eviction_schedule: %w", err))
		}
	}
	if w.FetchLimit < 0 || w.UpcomingLimit < 0 || w.FireConcurrency < 0 {
		add(errors.New("watch: limits must be >= 0"))
	}
	if d, err := Duration("watch.hour_window", w.HourWindow, 0); err == nil && d > 0 && d <= time.Hour {
		add(errors.New("watch.hour_window: must be longer than 1h"))
	}

	s := cfg.Source
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Errorf("source.base_url: invalid url %q", s.BaseURL))
		}
	}
	dur("source.timeout", s.Timeout)
	dur("source.roster_cache_ttl", s.RosterCacheTTL)
	if s.RatePerSec < 0 || s.RosterCacheSize < 0 {
		add(errors.New("source: rate_per_sec and roster_cache_size must be >= 0"))
	}

	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.RetryMax < 0 {
		add(errors.New("notifier: rate_per_sec and retry_max must be >= 0"))
	}

	return errors.Join(errs...)
}
