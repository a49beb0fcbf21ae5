// Package config loads tool configuration for the aioq commands.
//
// Config files are JSONC (JSON with comments and trailing commas), parsed
// with [github.com/tailscale/hujson]. Precedence, highest wins:
//
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/aioq/config.json or
//     ~/.config/aioq/config.json)
//  3. Project config (.aioq.json in the working directory, or an explicit
//     path)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Errors returned by [Load].
var (
	// ErrInvalid indicates a config file that parsed but failed validation.
	ErrInvalid = errors.New("invalid config")

	// ErrNotFound indicates an explicitly requested config file that does
	// not exist. Default-location files are optional and never produce it.
	ErrNotFound = errors.New("config file not found")
)

// FileName is the default project config file name.
const FileName = ".aioq.json"

// Config holds the settings shared by the aioq commands.
type Config struct {
	// ChunkLimitBytes caps how many bytes the queue worker reads per
	// iteration. Zero means "not set" and keeps the lower-precedence value.
	ChunkLimitBytes int64 `json:"chunk_limit_bytes,omitempty"`

	// HistoryFile is where the interactive shell persists its input
	// history. Empty disables persistence.
	HistoryFile string `json:"history_file,omitempty"`
}

// Sources tracks which config files contributed to the loaded config.
type Sources struct {
	Global  string
	Project string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ChunkLimitBytes: 1 << 20,
	}
}

// Load loads configuration from the default locations.
//
// workDir is where the project config is looked up. configPath, if
// non-empty, replaces the project config and must exist.
func Load(workDir, configPath string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	globalPath := globalConfigPath()
	if globalPath != "" {
		globalCfg, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, Sources{}, err
		}

		if loaded {
			sources.Global = globalPath
			cfg = merge(cfg, globalCfg)
		}
	}

	projectFile := filepath.Join(workDir, FileName)
	mustExist := false

	if configPath != "" {
		projectFile = configPath
		if !filepath.IsAbs(projectFile) {
			projectFile = filepath.Join(workDir, projectFile)
		}

		mustExist = true
	}

	projectCfg, loaded, err := loadFile(projectFile, mustExist)
	if err != nil {
		return Config{}, Sources{}, err
	}

	if loaded {
		sources.Project = projectFile
		cfg = merge(cfg, projectCfg)
	}

	if cfg.ChunkLimitBytes <= 0 {
		return Config{}, Sources{}, fmt.Errorf("%w: chunk_limit_bytes must be positive", ErrInvalid)
	}

	return cfg, sources, nil
}

// globalConfigPath returns the global config location, or "" if the home
// directory cannot be determined.
func globalConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "aioq", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "aioq", "config.json")
}

// loadFile reads and parses one config file. Missing optional files return
// loaded=false without error.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return Config{}, false, nil
	}

	cfg, parseErr := parse(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if cfg.ChunkLimitBytes < 0 {
		return Config{}, errors.New("chunk_limit_bytes must be positive")
	}

	// Distinguish an absent field from an explicit zero.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["chunk_limit_bytes"]; exists {
		if f, ok := val.(float64); ok && f == 0 {
			return Config{}, errors.New("chunk_limit_bytes must be positive")
		}
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.ChunkLimitBytes != 0 {
		base.ChunkLimitBytes = overlay.ChunkLimitBytes
	}

	if overlay.HistoryFile != "" {
		base.HistoryFile = overlay.HistoryFile
	}

	return base
}
