package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	logx "postwatch/pkg/logx"
)

// Candidates are tried in order by Discover.
var Candidates = []string{"postwatch.toml", "postwatch.yaml", "postwatch.yml", "postwatch.json"}

// Discover returns the first existing config file under root, or "".
func Discover(root string) string {
	for _, name := range Candidates {
		p := filepath.Join(root, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

type ConfigManager struct {
	path string
	log  logx.Logger
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// Parse decodes the config file strictly. Defaults are not applied.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, format, err := coerceToJSONBytes(m.path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s (%s): %w", m.path, format, err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%w: trailing data in %s", ErrInvalid, m.path)
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses, applies defaults and validates the config.
// A missing file is not an error: defaults are used and a warning is logged.
func (m *ConfigManager) Load() (*Config, error) {
	var cfg *Config
	if m.path == "" {
		cfg = &Config{}
	} else {
		parsed, err := m.Parse()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if !m.log.IsZero() {
				m.log.Warn("config file not found; using defaults", logx.String("path", m.path))
			}
			cfg = &Config{}
		case err != nil:
			return nil, err
		default:
			cfg = parsed
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
