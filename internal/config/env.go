package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvToken overrides telegram.token when set.
const EnvToken = "CTFWATCH_TELEGRAM_TOKEN"

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
}
