package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Workers   int             `json:"workers" yaml:"workers"`
	Paths     PathsConfig     `json:"paths" yaml:"paths"`
	Cleaning  CleaningConfig  `json:"cleaning" yaml:"cleaning"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
}

type PathsConfig struct {
	RawInput        string `json:"raw_input" yaml:"raw_input"`
	CleanedFile     string `json:"cleaned_file" yaml:"cleaned_file"`
	ScratchDir      string `json:"scratch_dir" yaml:"scratch_dir"`
	ResultsDir      string `json:"results_dir" yaml:"results_dir"`
	BlockingDir     string `json:"blocking_dir" yaml:"blocking_dir"`
	FinalReport     string `json:"final_report" yaml:"final_report"`
	ModelEvaluation string `json:"model_evaluation" yaml:"model_evaluation"`
}

type CleaningConfig struct {
	MaxValue float64 `json:"max_value" yaml:"max_value"`
}

type DetectionConfig struct {
	WindowSize      int     `json:"window_size" yaml:"window_size"`
	CUSUMDriftRatio float64 `json:"cusum_drift_ratio" yaml:"cusum_drift_ratio"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

const (
	defaultMaxValue        = 1e6
	defaultWindowSize      = 1000
	defaultCUSUMDriftRatio = 0.1
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Workers:  runtime.NumCPU(),
		Paths: PathsConfig{
			RawInput:        "data/clean.csv",
			CleanedFile:     "processed/clean.csv",
			ScratchDir:      os.TempDir(),
			ResultsDir:      "results",
			BlockingDir:     filepath.Join("results", "blocking"),
			FinalReport:     "final_eval.txt",
			ModelEvaluation: "model_evaluation.txt",
		},
		Cleaning: CleaningConfig{MaxValue: defaultMaxValue},
		Detection: DetectionConfig{
			WindowSize:      defaultWindowSize,
			CUSUMDriftRatio: defaultCUSUMDriftRatio,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:flowguard.db?_pragma=busy_timeout(5000)"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	// Derived from results_dir unless set explicitly.
	cfg.Paths.BlockingDir = ""

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is set and falls back to DefaultConfig
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := DefaultConfig()
		return cfg, Validate(cfg)
	}
	return Load(path)
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Paths.ScratchDir == "" {
		cfg.Paths.ScratchDir = def.Paths.ScratchDir
	}
	if cfg.Paths.ResultsDir == "" {
		cfg.Paths.ResultsDir = def.Paths.ResultsDir
	}
	if cfg.Paths.BlockingDir == "" {
		cfg.Paths.BlockingDir = filepath.Join(cfg.Paths.ResultsDir, "blocking")
	}
	if cfg.Cleaning.MaxValue <= 0 {
		cfg.Cleaning.MaxValue = defaultMaxValue
	}
	if cfg.Detection.WindowSize <= 0 {
		cfg.Detection.WindowSize = defaultWindowSize
	}
	if cfg.Detection.CUSUMDriftRatio <= 0 {
		cfg.Detection.CUSUMDriftRatio = defaultCUSUMDriftRatio
	}
}

func Validate(cfg *Config) error {
	if cfg.Workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if cfg.Paths.RawInput == "" {
		return errors.New("paths.raw_input required")
	}
	if cfg.Paths.CleanedFile == "" {
		return errors.New("paths.cleaned_file required")
	}
	if cfg.Paths.ResultsDir == "" {
		return errors.New("paths.results_dir required")
	}
	if cfg.Cleaning.MaxValue <= 0 {
		return fmt.Errorf("cleaning.max_value must be > 0, got %g", cfg.Cleaning.MaxValue)
	}
	if cfg.Detection.WindowSize <= 0 {
		return fmt.Errorf("detection.window_size must be > 0, got %d", cfg.Detection.WindowSize)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
		}
	}
	return nil
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
