// Package config loads the YAML source registry: one file per source,
// the file name (minus extension) being the source's slug.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and validation of source configurations
type Loader struct {
	sourcesDir string
}

// NewLoader creates a new configuration loader
func NewLoader(sourcesDir string) *Loader {
	return &Loader{sourcesDir: sourcesDir}
}

// LoadAll loads all YAML configuration files from the sources directory,
// keyed by slug.
func (l *Loader) LoadAll() (map[string]*SourceConfig, error) {
	configs := make(map[string]*SourceConfig)

	if _, err := os.Stat(l.sourcesDir); os.IsNotExist(err) {
		return configs, nil // empty registry is not an error
	}

	files, err := filepath.Glob(filepath.Join(l.sourcesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(l.sourcesDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	for _, file := range files {
		config, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		if err := l.validate(config); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", file, err)
		}

		slug := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		configs[slug] = config
		slog.Debug("Loaded source configuration", "slug", slug, "file", file)
	}

	return configs, nil
}

// loadFile loads a single YAML configuration file
func (l *Loader) loadFile(path string) (*SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config SourceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

// validate validates the configuration
func (l *Loader) validate(config *SourceConfig) error {
	if config.Source.FeedURL == "" {
		return fmt.Errorf("source feed_url is required")
	}
	if config.Source.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if config.Settings.NumSubs < 0 {
		return fmt.Errorf("num_subs must be non-negative")
	}

	if s := config.Scrape; s != nil {
		if s.Item == "" || s.Link == "" || s.Title == "" || s.Date == "" {
			return fmt.Errorf("scrape requires item, link, title and date selectors")
		}
	}

	return nil
}
