package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

var errTrailing = errors.New("trailing data")

// decode strictly parses a config file. .yaml/.yml go through the YAML
// decoder, everything else is JSON. Unknown keys and a second document are
// rejected in both formats.
func decode(path string, data []byte) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("yaml config %s: %w", path, err)
		}
		var next yaml.Node
		if err := dec.Decode(&next); !errors.Is(err, io.EOF) {
			if err == nil {
				err = errTrailing
			}
			return nil, fmt.Errorf("yaml config %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("json config %s: %w", path, err)
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			if err == nil {
				err = errTrailing
			}
			return nil, fmt.Errorf("json config %s: %w", path, err)
		}
	}
	return &cfg, nil
}

// Duration parses the duration field at path. Empty or zero yields def;
// negative values are rejected.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
