// Package config loads the process configuration from environment
// variables, with an optional YAML overlay file for local development.
// Every knob has a default so the process starts with none set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized configuration knob.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Headless bool   `yaml:"headless"`

	MaxGlobalWorkers   int           `yaml:"max_global_workers"`
	SessionIdleTimeout time.Duration `yaml:"-"`

	StageAMaxRetries int `yaml:"stage_a_max_retries"`
	StageBMaxRetries int `yaml:"stage_b_max_retries"`

	JitterAMin time.Duration `yaml:"-"`
	JitterAMax time.Duration `yaml:"-"`
	JitterBMin time.Duration `yaml:"-"`
	JitterBMax time.Duration `yaml:"-"`

	WorkerPollInterval time.Duration `yaml:"-"`
	RetryExtraSleep    time.Duration `yaml:"-"`

	DataDir string `yaml:"data_dir"`
}

// overlay mirrors Config's YAML-tagged fields plus the duration knobs
// expressed as seconds, for human-editable local config files.
type overlay struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Headless              bool   `yaml:"headless"`
	MaxGlobalWorkers      int    `yaml:"max_global_workers"`
	SessionIdleTimeoutSec int    `yaml:"session_idle_timeout_seconds"`
	StageAMaxRetries      int    `yaml:"stage_a_max_retries"`
	StageBMaxRetries      int    `yaml:"stage_b_max_retries"`
	JitterAMinMs          int    `yaml:"jitter_a_min_ms"`
	JitterAMaxMs          int    `yaml:"jitter_a_max_ms"`
	JitterBMinMs          int    `yaml:"jitter_b_min_ms"`
	JitterBMaxMs          int    `yaml:"jitter_b_max_ms"`
	WorkerPollIntervalMs  int    `yaml:"worker_poll_interval_ms"`
	RetryExtraSleepSec    int    `yaml:"retry_extra_sleep_seconds"`
	DataDir               string `yaml:"data_dir"`
}

// Default returns the configuration described in the environment
// specification's defaults.
func Default() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:                8080,
		Headless:           true,
		MaxGlobalWorkers:   10,
		SessionIdleTimeout: 1800 * time.Second,
		StageAMaxRetries:   3,
		StageBMaxRetries:   3,
		JitterAMin:         500 * time.Millisecond,
		JitterAMax:         2 * time.Second,
		JitterBMin:         500 * time.Millisecond,
		JitterBMax:         2 * time.Second,
		WorkerPollInterval: 1 * time.Second,
		RetryExtraSleep:    0,
		DataDir:            "./data",
	}
}

// Load builds a Config starting from Default, applying overlayPath (if
// non-empty and present) and then environment variables, which always
// win.
func Load(overlayPath string) (Config, error) {
	cfg := Default()

	if overlayPath != "" {
		if err := applyOverlay(&cfg, overlayPath); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: failed to read overlay file: %w", err)
	}

	var ov overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("config: failed to parse overlay file: %w", err)
	}

	if ov.Host != "" {
		cfg.Host = ov.Host
	}
	if ov.Port != 0 {
		cfg.Port = ov.Port
	}
	cfg.Headless = ov.Headless
	if ov.MaxGlobalWorkers != 0 {
		cfg.MaxGlobalWorkers = ov.MaxGlobalWorkers
	}
	if ov.SessionIdleTimeoutSec != 0 {
		cfg.SessionIdleTimeout = time.Duration(ov.SessionIdleTimeoutSec) * time.Second
	}
	if ov.StageAMaxRetries != 0 {
		cfg.StageAMaxRetries = ov.StageAMaxRetries
	}
	if ov.StageBMaxRetries != 0 {
		cfg.StageBMaxRetries = ov.StageBMaxRetries
	}
	if ov.JitterAMinMs != 0 {
		cfg.JitterAMin = time.Duration(ov.JitterAMinMs) * time.Millisecond
	}
	if ov.JitterAMaxMs != 0 {
		cfg.JitterAMax = time.Duration(ov.JitterAMaxMs) * time.Millisecond
	}
	if ov.JitterBMinMs != 0 {
		cfg.JitterBMin = time.Duration(ov.JitterBMinMs) * time.Millisecond
	}
	if ov.JitterBMaxMs != 0 {
		cfg.JitterBMax = time.Duration(ov.JitterBMaxMs) * time.Millisecond
	}
	if ov.WorkerPollIntervalMs != 0 {
		cfg.WorkerPollInterval = time.Duration(ov.WorkerPollIntervalMs) * time.Millisecond
	}
	if ov.RetryExtraSleepSec != 0 {
		cfg.RetryExtraSleep = time.Duration(ov.RetryExtraSleepSec) * time.Second
	}
	if ov.DataDir != "" {
		cfg.DataDir = ov.DataDir
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := envBool("HEADLESS"); ok {
		cfg.Headless = v
	}
	if v, ok := envInt("MAX_GLOBAL_WORKERS"); ok {
		cfg.MaxGlobalWorkers = v
	}
	if v, ok := envInt("SESSION_IDLE_TIMEOUT"); ok {
		cfg.SessionIdleTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("STAGE_A_MAX_RETRIES"); ok {
		cfg.StageAMaxRetries = v
	}
	if v, ok := envInt("STAGE_B_MAX_RETRIES"); ok {
		cfg.StageBMaxRetries = v
	}
	if v, ok := envInt("JITTER_A_MIN_MS"); ok {
		cfg.JitterAMin = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("JITTER_A_MAX_MS"); ok {
		cfg.JitterAMax = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("JITTER_B_MIN_MS"); ok {
		cfg.JitterBMin = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("JITTER_B_MAX_MS"); ok {
		cfg.JitterBMax = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("WORKER_POLL_INTERVAL_MS"); ok {
		cfg.WorkerPollInterval = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("RETRY_EXTRA_SLEEP_SECONDS"); ok {
		cfg.RetryExtraSleep = time.Duration(v) * time.Second
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
