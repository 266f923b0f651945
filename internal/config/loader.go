package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/goran-ethernal/EntityIndexor/pkg/config"
	"gopkg.in/yaml.v3"
)

type decodeFunc func(data []byte, cfg *pkgconfig.Config) error

var decoders = map[string]decodeFunc{
	".yaml": decodeYAML,
	".yml":  decodeYAML,
	".json": decodeJSON,
	".toml": decodeTOML,
}

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}

	return load(path, decode)
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	return load(path, decodeYAML)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	return load(path, decodeJSON)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	return load(path, decodeTOML)
}

func load(path string, decode decodeFunc) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := decode(data, &cfg); err != nil {
		return nil, err
	}

	return processConfig(&cfg)
}

func decodeYAML(data []byte, cfg *pkgconfig.Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, cfg *pkgconfig.Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, cfg *pkgconfig.Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse TOML config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("failed to parse TOML config: unknown keys %v", undecoded)
	}
	return nil
}

// processConfig applies defaults and validates the configuration.
func processConfig(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
