package config

import (
	"strings"

	logx "ctfwatch/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and log fields
// describing the new values. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file.enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.String("watch.interval", newCfg.Watch.Interval),
			logx.Int("watch.fetch_limit", newCfg.Watch.FetchLimit),
			logx.String("watch.hour_window", newCfg.Watch.HourWindow),
			logx.String("watch.eviction_schedule", newCfg.Watch.EvictionSchedule),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.base_url", newCfg.Source.BaseURL),
			logx.Float64("source.rate_per_sec", newCfg.Source.RatePerSec),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	if oldCfg.Observability != newCfg.Observability {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
		)
	}

	return changed, attrs
}

// RestartRequired reports whether a change only takes effect after restart.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "source", "observability":
			return true
		}
	}
	return false
}
