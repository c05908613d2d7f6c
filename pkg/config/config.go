// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < job file < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	lferrors "github.com/logflow/labelflow/pkg/errors"
	"github.com/logflow/labelflow/pkg/validation"
)

// Config holds all labelflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Input     InputConfig      `yaml:"input"`
	Search    SearchConfig     `yaml:"search"`
	Labels    []FunctionConfig `yaml:"labels"`
	Output    OutputConfig     `yaml:"output"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Log       LogConfig        `yaml:"log"`
}

// InputConfig describes the event table.
type InputConfig struct {
	Path         string `yaml:"path"`
	Format       string `yaml:"format"` // csv | tsv | json | jsonl | parquet | xlsx, empty = by extension
	EntityColumn string `yaml:"entity_column"`
	TimeIndex    string `yaml:"time_index"`
	Sort         bool   `yaml:"sort"`
	Sheet        string `yaml:"sheet"` // xlsx only

	// Cutoffs names a table of per-entity minimum data.
	Cutoffs      string `yaml:"cutoffs"`
	CutoffColumn string `yaml:"cutoff_column"`
}

// SearchConfig holds the search parameters. Offsets keep their YAML type:
// integers are row counts, strings are durations, frequencies or timestamps.
type SearchConfig struct {
	WindowSize             any    `yaml:"window_size"`
	WindowColumn           string `yaml:"window_column"`
	Gap                    any    `yaml:"gap"`
	MinimumData            any    `yaml:"minimum_data"`
	MaximumData            any    `yaml:"maximum_data"`
	NumExamplesPerInstance any    `yaml:"num_examples_per_instance"` // count, -1 | "inf", or label: count map
	KeepEmpty              bool   `yaml:"keep_empty"`
	Positivity             string `yaml:"positivity"` // strict-positive | non-negative
	Workers                int    `yaml:"workers"`
}

// FunctionConfig declares one labeling function. Either Func with an
// optional Column, or Expr.
type FunctionConfig struct {
	Name   string `yaml:"name"`
	Func   string `yaml:"func"`
	Column string `yaml:"column"`
	Expr   string `yaml:"expr"`
}

// OutputConfig controls where label times are written.
type OutputConfig struct {
	Dir          string `yaml:"dir"`
	Format       string `yaml:"format"` // csv | parquet | both
	SkipSettings bool   `yaml:"skip_settings"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// LogConfig for the zap logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Input: InputConfig{
			TimeIndex: "time",
		},
		Search: SearchConfig{
			Positivity: "strict-positive",
			Workers:    1,
		},
		Output: OutputConfig{
			Dir:    "labels",
			Format: "csv",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "labelflow",
			Insecure:    true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string // candidate files, lowest priority first
	paths  []string // files that were loaded
}

// NewManager creates a manager reading the system, user and project files.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
		search: defaultPaths(),
	}
}

// NewManagerWithPaths creates a manager reading only the given files.
func NewManagerWithPaths(paths ...string) *Manager {
	return &Manager{
		config: Default(),
		search: paths,
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			// Missing files are expected, broken ones are not.
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	return m.loadEnv()
}

// LoadJob merges an explicit job file on top of everything loaded so far.
// Unlike the layered files it must exist.
func (m *Manager) LoadJob(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadFile(path); err != nil {
		if os.IsNotExist(err) {
			return lferrors.Wrap(err, lferrors.CodeInvalidConfiguration, "job file not found").
				WithContext("path", path)
		}
		return err
	}
	m.paths = append(m.paths, path)
	return nil
}

func defaultPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/labelflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".labelflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".labelflow.yaml"))
	}
	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfiguration, "invalid config file").
			WithContext("path", path)
	}

	m.config.Merge(&partial)
	return nil
}

// Merge copies the non-zero values of src into c.
func (c *Config) Merge(src *Config) {
	if src.Version != 0 {
		c.Version = src.Version
	}

	// Input
	mergeString(&c.Input.Path, src.Input.Path)
	mergeString(&c.Input.Format, src.Input.Format)
	mergeString(&c.Input.EntityColumn, src.Input.EntityColumn)
	mergeString(&c.Input.TimeIndex, src.Input.TimeIndex)
	mergeString(&c.Input.Sheet, src.Input.Sheet)
	mergeString(&c.Input.Cutoffs, src.Input.Cutoffs)
	mergeString(&c.Input.CutoffColumn, src.Input.CutoffColumn)
	c.Input.Sort = c.Input.Sort || src.Input.Sort

	// Search
	mergeAny(&c.Search.WindowSize, src.Search.WindowSize)
	mergeString(&c.Search.WindowColumn, src.Search.WindowColumn)
	mergeAny(&c.Search.Gap, src.Search.Gap)
	mergeAny(&c.Search.MinimumData, src.Search.MinimumData)
	mergeAny(&c.Search.MaximumData, src.Search.MaximumData)
	mergeAny(&c.Search.NumExamplesPerInstance, src.Search.NumExamplesPerInstance)
	mergeString(&c.Search.Positivity, src.Search.Positivity)
	c.Search.KeepEmpty = c.Search.KeepEmpty || src.Search.KeepEmpty
	if src.Search.Workers != 0 {
		c.Search.Workers = src.Search.Workers
	}

	// Labels replace as a whole.
	if len(src.Labels) > 0 {
		c.Labels = append([]FunctionConfig(nil), src.Labels...)
	}

	// Output
	mergeString(&c.Output.Dir, src.Output.Dir)
	mergeString(&c.Output.Format, src.Output.Format)
	c.Output.SkipSettings = c.Output.SkipSettings || src.Output.SkipSettings

	// Telemetry
	c.Telemetry.Enabled = c.Telemetry.Enabled || src.Telemetry.Enabled
	mergeString(&c.Telemetry.Endpoint, src.Telemetry.Endpoint)
	mergeString(&c.Telemetry.ServiceName, src.Telemetry.ServiceName)

	mergeString(&c.Log.Level, src.Log.Level)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeAny(dst *any, v any) {
	if v != nil {
		*dst = v
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() error {
	// LABELFLOW_INPUT
	if v := os.Getenv("LABELFLOW_INPUT"); v != "" {
		m.config.Input.Path = v
	}

	// LABELFLOW_OUTPUT_DIR
	if v := os.Getenv("LABELFLOW_OUTPUT_DIR"); v != "" {
		m.config.Output.Dir = v
	}

	// LABELFLOW_LOG_LEVEL
	if v := os.Getenv("LABELFLOW_LOG_LEVEL"); v != "" {
		m.config.Log.Level = v
	}

	// LABELFLOW_WORKERS
	if v := os.Getenv("LABELFLOW_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return lferrors.Wrap(err, lferrors.CodeInvalidConfiguration, "invalid LABELFLOW_WORKERS").
				WithContext("value", v)
		}
		m.config.Search.Workers = n
	}

	// LABELFLOW_OTLP_ENDPOINT turns tracing on.
	if v := os.Getenv("LABELFLOW_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Endpoint = v
		m.config.Telemetry.Enabled = true
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Validate checks the fields a search cannot run without.
func (c *Config) Validate() error {
	errs := &lferrors.MultiError{}

	if c.Input.Path == "" {
		errs.Add(lferrors.InvalidConfiguration("input path is required"))
	} else if err := validation.ValidateInputFile(c.Input.Path); err != nil {
		errs.Add(err)
	}
	if c.Input.Cutoffs != "" {
		if err := validation.ValidateInputFile(c.Input.Cutoffs); err != nil {
			errs.Add(err)
		}
	}
	if c.Input.EntityColumn == "" {
		errs.Add(lferrors.InvalidConfiguration("entity column is required"))
	} else if err := validation.ValidateColumnName(c.Input.EntityColumn); err != nil {
		errs.Add(err)
	}
	if err := validation.ValidateColumnName(c.Input.TimeIndex); err != nil {
		errs.Add(err)
	}
	if c.Output.Dir != "" {
		if err := validation.ValidateOutputDir(c.Output.Dir); err != nil {
			errs.Add(err)
		}
	}
	if len(c.Labels) == 0 {
		errs.Add(lferrors.New(lferrors.CodeInvalidFunction, "missing labeling function(s)"))
	}
	for i, l := range c.Labels {
		if (l.Func == "") == (l.Expr == "") {
			errs.Add(lferrors.New(lferrors.CodeInvalidFunction, "labeling function needs exactly one of func or expr").
				WithContext("position", i).
				WithContext("name", l.Name))
		}
	}
	switch strings.ToLower(c.Output.Format) {
	case "", "csv", "parquet", "both":
	default:
		errs.Add(lferrors.New(lferrors.CodeUnsupportedFormat, "unknown output format").
			WithContext("format", c.Output.Format))
	}
	return errs.Combined()
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the current config to the user config file.
func (m *Manager) Save() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	configDir := filepath.Join(home, ".labelflow")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}

	data, err := m.config.Marshal()
	if err != nil {
		return "", err
	}

	path := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
