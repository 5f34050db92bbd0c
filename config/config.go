package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hra-insights/logger"
	"hra-insights/repair"
)

// DefaultFile is read when no config path is given and it exists
const DefaultFile = "hra.yaml"

// Environment variable names. Process environment wins over .env.
const (
	EnvDebugDir        = "HRA_DEBUG_DIR"
	EnvLogLevel        = "HRA_LOG_LEVEL"
	EnvLogFormat       = "HRA_LOG_FORMAT"
	EnvLogDir          = "HRA_LOG_DIR"
	EnvPort            = "HRA_PORT"
	EnvDBPath          = "HRA_DB_PATH"
	EnvCSVPath         = "HRA_CSV_PATH"
	EnvMappingsPath    = "HRA_MAPPINGS_PATH"
	EnvWorkers         = "HRA_WORKERS"
	EnvMetricsTextfile = "HRA_METRICS_TEXTFILE"
	EnvRepairLookahead = "HRA_REPAIR_LOOKAHEAD"
)

var envKeys = []string{
	EnvDebugDir, EnvLogLevel, EnvLogFormat, EnvLogDir, EnvPort, EnvDBPath,
	EnvCSVPath, EnvMappingsPath, EnvWorkers, EnvMetricsTextfile, EnvRepairLookahead,
}

// RepairConfig tunes the repair pass
type RepairConfig struct {
	LookaheadLines int              `yaml:"lookahead_lines"`
	TagPairs       []repair.TagPair `yaml:"tag_pairs"`
}

// Config holds all configuration for the pipeline and its commands
type Config struct {
	DebugDir        string       `yaml:"debug_dir"`
	LogLevel        string       `yaml:"log_level"`
	LogFormat       string       `yaml:"log_format"`
	LogDir          string       `yaml:"log_dir"`
	Port            string       `yaml:"port"`
	DBPath          string       `yaml:"db_path"`
	CSVPath         string       `yaml:"csv_path"`
	MappingsPath    string       `yaml:"mappings_path"`
	Workers         int          `yaml:"workers"`
	MetricsTextfile string       `yaml:"metrics_textfile"`
	Repair          RepairConfig `yaml:"repair"`

	// Sources lists where values came from, in load order
	Sources []string `yaml:"-"`
}

// GetDefaultConfig returns the built-in defaults
func GetDefaultConfig() *Config {
	return &Config{
		Port:      "3456",
		LogLevel:  "info",
		LogFormat: string(logger.FormatText),
		Workers:   3,
		Repair: RepairConfig{
			LookaheadLines: repair.DefaultLookaheadLines,
			TagPairs:       repair.DefaultTagPairs(),
		},
		Sources: []string{"defaults"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// DefaultFile when path is empty and it exists), then .env in the working
// directory, then HRA_* environment variables.
func Load(path string) (*Config, error) {
	return load(path, ".env", os.LookupEnv)
}

func load(path, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := GetDefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	envVars, err := loadEnvFile(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}
	if err == nil && len(envVars) > 0 {
		cfg.Sources = append(cfg.Sources, envFile)
	}

	fromProcess := false
	for _, key := range envKeys {
		if v, ok := lookup(key); ok {
			envVars[key] = v
			fromProcess = true
		}
	}
	if fromProcess {
		cfg.Sources = append(cfg.Sources, "environment")
	}

	if err := cfg.applyEnv(envVars); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays a YAML file onto cfg; keys absent from the file keep
// their current values
func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.Sources = append(c.Sources, path)
	return nil
}

// applyEnv copies recognised variables onto the config
func (c *Config) applyEnv(vars map[string]string) error {
	strs := map[string]*string{
		EnvDebugDir:        &c.DebugDir,
		EnvLogLevel:        &c.LogLevel,
		EnvLogFormat:       &c.LogFormat,
		EnvLogDir:          &c.LogDir,
		EnvPort:            &c.Port,
		EnvDBPath:          &c.DBPath,
		EnvCSVPath:         &c.CSVPath,
		EnvMappingsPath:    &c.MappingsPath,
		EnvMetricsTextfile: &c.MetricsTextfile,
	}
	for key, dst := range strs {
		if v, ok := vars[key]; ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		EnvWorkers:         &c.Workers,
		EnvRepairLookahead: &c.Repair.LookaheadLines,
	}
	for key, dst := range ints {
		v, ok := vars[key]
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		*dst = n
	}
	return nil
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Repair.LookaheadLines < 1 {
		return fmt.Errorf("repair.lookahead_lines must be at least 1, got %d", c.Repair.LookaheadLines)
	}
	for i, pair := range c.Repair.TagPairs {
		if pair.Field == "" || pair.Stray == "" {
			return fmt.Errorf("repair.tag_pairs[%d] needs both field and stray", i)
		}
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logger.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	return nil
}

// RepairOptions converts the repair section for repair.NewRepairer
func (c *Config) RepairOptions() repair.Options {
	pairs := make([]repair.TagPair, len(c.Repair.TagPairs))
	copy(pairs, c.Repair.TagPairs)
	return repair.Options{
		TagPairs:       pairs,
		LookaheadLines: c.Repair.LookaheadLines,
	}
}

// LoggerOptions converts the logging keys for logger.NewObservabilityLogger.
// Validate has already accepted both values.
func (c *Config) LoggerOptions() logger.Options {
	level, _ := logger.ParseLevel(c.LogLevel)
	format, _ := logger.ParseFormat(c.LogFormat)
	return logger.Options{Level: level, Format: format, Dir: c.LogDir}
}

// Addr is the listen address for the serve command
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// GroupSizeEnabled reports whether both group-size inputs are configured
func (c *Config) GroupSizeEnabled() bool {
	return c.CSVPath != "" && c.MappingsPath != ""
}

// loadEnvFile loads KEY=VALUE pairs from an env file
func loadEnvFile(path string) (map[string]string, error) {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return envVars, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove comments from value
		if commentIndex := strings.Index(value, "#"); commentIndex != -1 {
			value = strings.TrimSpace(value[:commentIndex])
		}
		value = strings.Trim(value, `"'`)

		envVars[key] = value
	}

	return envVars, scanner.Err()
}
