package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "from-file"
  poll_timeout: 10s
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./ctfwatch.db
watch:
  interval: 120s
  hour_window: 4h
  eviction_schedule: "@daily"
source:
  rate_per_sec: 1.5
notifier:
  retry_max: 3
observability:
  enabled: true
  pprof: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvToken, "")
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-file" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Watch.Interval != "120s" || cfg.Source.RatePerSec != 1.5 || cfg.Notifier.RetryMax != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Observability.Enabled || !cfg.Observability.Pprof {
		t.Fatalf("observability = %+v", cfg.Observability)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}
}

func TestEnvOverridesToken(t *testing.T) {
	t.Setenv(EnvToken, "from-env")
	cfg, err := NewConfigManager(writeFile(t, "config.json", `{"telegram":{"token":""}}`)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv(EnvToken, "")
	os.Unsetenv(EnvToken)
	p := writeFile(t, ".env", EnvToken+"=dotenv-token\n")
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(EnvToken); got != "dotenv-token" {
		t.Fatalf("env = %q", got)
	}
}

func TestParseRejects(t *testing.T) {
	t.Setenv(EnvToken, "")
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"x"},"plugins":{}}`, "unknown field"},
		{"trailing data", "c.json", `{"telegram":{"token":"x"}}{}`, "trailing data"},
		{"missing token", "c.json", `{}`, "telegram.token"},
		{"bad duration", "c.yml", "telegram: {token: x}\nwatch: {interval: soon}\n", "watch.interval"},
		{"negative duration", "c.yml", "telegram: {token: x}\nsource: {timeout: -1s}\n", "source.timeout"},
		{"bad driver", "c.json", `{"telegram":{"token":"x"},"storage":{"driver":"redis"}}`, "storage.driver"},
		{"bad cron", "c.json", `{"telegram":{"token":"x"},"watch":{"eviction_schedule":"every day"}}`, "watch.eviction_schedule"},
		{"short hour window", "c.json", `{"telegram":{"token":"x"},"watch":{"hour_window":"30m"}}`, "watch.hour_window"},
		{"yaml unknown field", "c.yaml", "telegram: {token: x}\nplugins: {}\n", "plugins"},
		{"yaml second document", "c.yaml", "telegram: {token: x}\n---\ntelegram: {token: y}\n", "trailing data"},
		{"bad url", "c.json", `{"telegram":{"token":"x"},"source":{"base_url":"ctftime"}}`, "source.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigManager(writeFile(t, tt.file, tt.body)).Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{raw: "", def: time.Second, want: time.Second},
		{raw: " 0s ", def: time.Second, want: time.Second},
		{raw: "90s", def: time.Second, want: 90 * time.Second},
		{raw: "", want: 0},
		{raw: "-5m", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Duration("x.y", tt.raw, tt.def)
		if tt.wantErr {
			if err == nil || !strings.Contains(err.Error(), "x.y") {
				t.Errorf("Duration(%q) err = %v, want error naming the field", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Duration(%q, %v) = %v, %v; want %v", tt.raw, tt.def, got, err, tt.want)
		}
	}
}

func TestEvictionOffIsValid(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{Token: "x"}, Watch: WatchConfig{EvictionSchedule: "off"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Watch: WatchConfig{Interval: "300s"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Watch: WatchConfig{Interval: "60s"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(changed, ","); got != "telegram,watch" {
		t.Fatalf("changed = %q", got)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if !RestartRequired(changed) {
		t.Fatal("telegram change should require restart")
	}
	if RestartRequired([]string{"watch", "logging"}) {
		t.Fatal("watch/logging apply live")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"watch":{"interval":"300s"}}`)
	m := NewConfigManager(p)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher has registered and picked it up.
		if err := os.WriteFile(p, []byte(`{"telegram":{"token":"x"},"watch":{"interval":"60s"}}`), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-ch:
			if cfg.Watch.Interval != "60s" {
				t.Fatalf("interval = %q", cfg.Watch.Interval)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
