// Package config handles job file loading and management
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"

	"github.com/poltergeist/dockerstage/pkg/builders"
	"github.com/poltergeist/dockerstage/pkg/types"
	"github.com/poltergeist/dockerstage/pkg/utils"
)

// FileNames are the job file names searched in a project root, in order
var FileNames = []string{"dockerstage.yaml", "dockerstage.yml", "dockerstage.json"}

// DefaultSettlingDelay is the watch mode settling delay in milliseconds
const DefaultSettlingDelay = 1000

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig returns the first job file found in dir
func FindConfig(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if utils.FileExists(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("no job file found in %s (looked for %v)", dir, FileNames)
}

// LoadConfig reads, defaults and validates a job file.
//
// Relative directories in the file are resolved against the file's own
// directory, so a job behaves the same wherever it is invoked from.
func (m *Manager) LoadConfig(path string) (*types.JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := m.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	ResolvePaths(cfg, base)

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes a job file and applies defaults without validating it
func (m *Manager) ParseConfig(data []byte) (*types.JobConfig, error) {
	var cfg types.JobConfig

	// Try JSON first
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config as JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config as YAML: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills in the values a job file may leave out
func ApplyDefaults(cfg *types.JobConfig) {
	if cfg.Version == "" {
		cfg.Version = types.ConfigVersion
	}
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = types.DefaultOutputDirectory
	}
	if cfg.MergeOrder == "" {
		cfg.MergeOrder = types.MergeOrderPrimaryLast
	}
	if cfg.Watch != nil && cfg.Watch.SettlingDelay <= 0 {
		cfg.Watch.SettlingDelay = DefaultSettlingDelay
	}
}

// ResolvePaths makes every relative directory in cfg relative to base
func ResolvePaths(cfg *types.JobConfig, base string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.Directory = resolve(cfg.Directory)
	cfg.OutputDirectory = resolve(cfg.OutputDirectory)
	for i := range cfg.Resources {
		cfg.Resources[i].Directory = resolve(cfg.Resources[i].Directory)
	}
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.JobConfig) error {
	if cfg.Version != types.ConfigVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if err := builders.Validate(cfg); err != nil {
		return err
	}

	named, err := reference.ParseNormalizedNamed(cfg.ImageName)
	if err != nil {
		return fmt.Errorf("invalid imageName %q: %w", cfg.ImageName, err)
	}
	if !reference.IsNameOnly(named) {
		return fmt.Errorf("invalid imageName %q: tags and digests belong in imageTags", cfg.ImageName)
	}

	for _, tag := range cfg.ImageTags {
		if _, err := reference.WithTag(named, tag); err != nil {
			return fmt.Errorf("invalid image tag %q: %w", tag, err)
		}
	}

	switch cfg.MergeOrder {
	case types.MergeOrderPrimaryLast, types.MergeOrderPrimaryFirst:
	default:
		return fmt.Errorf("invalid mergeOrder: %s", cfg.MergeOrder)
	}

	for i, rule := range cfg.Resources {
		if rule.Directory == "" {
			return fmt.Errorf("resource %d: missing directory", i)
		}
		if filepath.IsAbs(rule.TargetPath) {
			return fmt.Errorf("resource %d: targetPath must be relative, got %s", i, rule.TargetPath)
		}
		for _, p := range append(append([]string{}, rule.Includes...), rule.Excludes...) {
			if _, err := utils.NewPatternMatcher([]string{p}); err != nil {
				return fmt.Errorf("resource %d: %w", i, err)
			}
		}
	}

	return nil
}

// GetDefaultConfig returns a starter job for imageName
func (m *Manager) GetDefaultConfig(imageName string) *types.JobConfig {
	enabled := true

	return &types.JobConfig{
		Version:         types.ConfigVersion,
		Directory:       "src/main/docker",
		ImageName:       imageName,
		ImageTags:       []string{types.DefaultTag},
		OutputDirectory: types.DefaultOutputDirectory,
		MergeOrder:      types.MergeOrderPrimaryLast,
		Resources: []types.ResourceRule{
			{
				Directory: types.DefaultOutputDirectory,
				Includes:  []string{"*.jar"},
			},
		},
		Build: types.BuildOptions{ForceRemove: true},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Watch: &types.WatchConfig{
			SettlingDelay: DefaultSettlingDelay,
			Exclusions:    utils.GetDefaultExclusions(),
		},
	}
}

// WriteConfig writes cfg to path, as JSON when path ends in .json and YAML
// otherwise.
func (m *Manager) WriteConfig(path string, cfg *types.JobConfig) error {
	var (
		data []byte
		err  error
	)
	if filepath.Ext(path) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
