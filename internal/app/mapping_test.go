package app

import (
	"testing"
	"time"

	"ctfwatch/internal/config"
)

func TestMapWatch(t *testing.T) {
	tests := []struct {
		name     string
		in       config.WatchConfig
		interval time.Duration
		eviction string
	}{
		{"defaults", config.WatchConfig{}, 0, config.DefaultEvictionSchedule},
		{"explicit", config.WatchConfig{Interval: "60s", EvictionSchedule: "@daily"}, time.Minute, "@daily"},
		{"eviction off", config.WatchConfig{EvictionSchedule: "OFF"}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapWatch(&config.Config{Watch: tt.in})
			if err != nil {
				t.Fatalf("mapWatch: %v", err)
			}
			if got.Interval != tt.interval || got.EvictionSchedule != tt.eviction {
				t.Fatalf("got interval=%v eviction=%q", got.Interval, got.EvictionSchedule)
			}
		})
	}

	if _, err := mapWatch(&config.Config{Watch: config.WatchConfig{HourWindow: "later"}}); err == nil {
		t.Fatal("bad duration accepted")
	}
}

func TestMapStorage(t *testing.T) {
	sc, err := MapStorage(&config.Config{})
	if err != nil || sc.Driver != "file" || sc.Path == "" {
		t.Fatalf("default = %+v, %v", sc, err)
	}
	sc, err = MapStorage(&config.Config{Storage: config.StorageConfig{Driver: "SQLite3", Path: "x.db"}})
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite = %+v, %v", sc, err)
	}
	sc, err = MapStorage(&config.Config{Storage: config.StorageConfig{Driver: "none"}})
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("memory = %+v, %v", sc, err)
	}
	if err := config.Validate(&config.Config{Telegram: config.TelegramConfig{Token: "x"}, Storage: config.StorageConfig{Driver: "memory"}}); err != nil {
		t.Fatalf("Validate(memory): %v", err)
	}
	if _, err := MapStorage(&config.Config{Storage: config.StorageConfig{Driver: "sqlite"}}); err == nil {
		t.Fatal("sqlite without path accepted")
	}
	if _, err := MapStorage(&config.Config{Storage: config.StorageConfig{Driver: "redis", Path: "x"}}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestMapNotifierDefaultsRetry(t *testing.T) {
	n, err := mapNotifier(&config.Config{Notifier: config.NotifierConfig{RetryBase: "1s"}})
	if err != nil {
		t.Fatal(err)
	}
	if n.RetryMax != 2 || n.RetryBase != time.Second {
		t.Fatalf("notifier = %+v", n)
	}
}

func TestMapObservabilityDefaultAddr(t *testing.T) {
	if got := mapObservability(&config.Config{}).Addr; got != config.DefaultObservabilityAddr {
		t.Fatalf("addr = %q", got)
	}
}
