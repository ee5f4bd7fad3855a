package logx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger not reported as zero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop reported as zero")
	}
	Nop().With(String("k", "v")).Error("dropped", Err(errors.New("x")))
}

func TestFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctfwatch.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log = log.With(String("comp", "test"))
	log.Debug("hidden")
	log.Info("tick done", Int("fetched", 3), Err(nil))
	if log.Enabled(LevelDebug) {
		t.Fatal("debug enabled at info level")
	}

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatal("Apply did not reach the derived logger")
	}
	log.Debug("now visible")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug entry written at info level:\n%s", out)
	}
	for _, want := range []string{`"message":"tick done"`, `"comp":"test"`, `"fetched":3`, `"caller":"logx_test.go:`, "now visible"} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"err"`) {
		t.Errorf("nil error was logged:\n%s", out)
	}
}
