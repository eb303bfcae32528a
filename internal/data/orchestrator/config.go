package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config controls the construction of the orchestrator's stores.
type Config struct {
	WorkspaceRoot string
	CatalogPath   string
	MaxRounds     int
}

// DefaultConfig returns the baseline configuration used when no overrides are
// supplied.
func DefaultConfig() Config {
	return Config{
		WorkspaceRoot: filepath.Join("data", "workspace"),
		CatalogPath:   filepath.Join("data", "catalog.db"),
		MaxRounds:     1,
	}
}

// LoadConfig builds a Config from defaults and environment variables.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if value := strings.TrimSpace(os.Getenv("APPFORGE_WORKSPACE_ROOT")); value != "" {
		cfg.WorkspaceRoot = value
	}
	if value := strings.TrimSpace(os.Getenv("APPFORGE_CATALOG_PATH")); value != "" {
		cfg.CatalogPath = value
	}
	if value := strings.TrimSpace(os.Getenv("APPFORGE_PM_MAX_ROUNDS")); value != "" {
		rounds, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APPFORGE_PM_MAX_ROUNDS: %w", err)
		}
		if rounds > 0 {
			cfg.MaxRounds = rounds
		}
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.WorkspaceRoot) == "" {
		cfg.WorkspaceRoot = defaults.WorkspaceRoot
	}
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		cfg.CatalogPath = defaults.CatalogPath
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	return cfg
}

func (c Config) validate() error {
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("workspace root required")
	}
	if strings.TrimSpace(c.CatalogPath) == "" {
		return fmt.Errorf("catalog path required")
	}
	return nil
}
