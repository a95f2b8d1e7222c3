package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// Load reads the configuration file at path, applies environment-variable
// expansion, deep-merges it over the built-in defaults, and validates the
// result. A missing file is not an error: the defaults alone are returned,
// since every field has a sane default (spec §6).
//
// Load also loads a sibling .env file (if present) before touching
// config.json, exactly as cmd/tarsy/main.go does, so that LLM credentials
// consumed by the out-of-scope invoker binary are available as environment
// variables without being written into config.json itself.
func Load(path string) (*Convergence, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file, continuing without it", "error", err)
	}

	defaults := Defaults()
	defaultsRaw, err := toRawMap(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}

	merged := defaultsRaw
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = ExpandEnv(data)
			var file File
			if err := json.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
			}
			overrideRaw, err := toRawMap(file.Convergence)
			if err != nil {
				return nil, fmt.Errorf("encode override: %w", err)
			}
			merged = deepMerge(defaultsRaw, overrideRaw)
		case os.IsNotExist(err):
			slog.Info("configuration file not found, using built-in defaults", "path", path)
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("remarshal merged config: %w", err)
	}
	var cfg Convergence
	if err := json.Unmarshal(mergedBytes, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal merged config: %w", err)
	}

	if err := NewValidator().ValidateAll(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return &cfg, nil
}

// toRawMap round-trips a value through JSON to get an untyped map suitable
// for deepMerge, preserving only fields with a json tag.
func toRawMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
