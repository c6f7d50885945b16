/*
Copyright 2026 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the coordination fabric's YAML configuration: bus
// tuning, ECC/Locker/Diagnostic tuning, the externally-supplied
// classification->section routing policy, persistence locations, and the
// optional Postgres/Redis/Slack integrations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BusConfig tunes the bus's bounded mailboxes (spec.md §4.2).
type BusConfig struct {
	MailboxDepth   int           `yaml:"mailbox_depth"`
	SoftThreshold  int           `yaml:"soft_threshold"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ECCConfig tunes section lifecycle defaults (spec.md §4.1).
type ECCConfig struct {
	DefaultMaxReruns int `yaml:"default_max_reruns"`
}

// LockerConfig tunes evidence ingest/classification (spec.md §4.3).
type LockerConfig struct {
	ClassificationRetries int           `yaml:"classification_retries"`
	ClassificationBudget  time.Duration `yaml:"classification_budget"`
	QuarantineDir         string        `yaml:"quarantine_dir"`
	ManifestPath          string        `yaml:"manifest_path"`
}

// DiagnosticConfig tunes the Diagnostic Supervisor (spec.md §4.6).
type DiagnosticConfig struct {
	LivenessInterval   time.Duration `yaml:"liveness_interval"`
	LivenessTimeout    time.Duration `yaml:"liveness_timeout"`
	RollcallThrottle   time.Duration `yaml:"rollcall_throttle"`
	FaultVaultCap      int           `yaml:"fault_vault_cap"`
	FaultRetention     time.Duration `yaml:"fault_retention"`
	RepairQueueSoftCap int           `yaml:"repair_queue_soft_cap"`
	RepairQueueHardCap int           `yaml:"repair_queue_hard_cap"`
	RepairWorkers      int           `yaml:"repair_workers"`
	FaultVaultPath     string        `yaml:"fault_vault_path"`
}

// RoutingConfig points at the externally-supplied classification->section
// routing policy (spec.md §9 open question).
type RoutingConfig struct {
	RegoPolicyPath string `yaml:"rego_policy_path"`
	JQRulesPath    string `yaml:"jq_rules_path"`
}

// PostgresConfig is the optional durable store for Section Records / Case
// Context history (SPEC_FULL.md §3).
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}

// RedisConfig backs the dedupe index / mailbox-depth cache in multi-process
// mode (SPEC_FULL.md §3).
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// NotifyConfig is the Slack mirror for HIGH faults (spec.md §7).
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
	Enabled         bool   `yaml:"enabled"`
}

// ClassifyConfig selects and configures the pluggable evidence classifier
// backend (SPEC_FULL.md §3).
type ClassifyConfig struct {
	Backend string        `yaml:"backend"` // "local" | "anthropic" | "bedrock" | "rest"
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// RestEndpoint and RestTokenURL configure the "rest" backend, an
	// OAuth2 client-credentials-secured third-party classifier. The
	// client ID/secret are read from environment variables rather than
	// this file, matching how the "anthropic" backend keeps its API key
	// out of YAML.
	RestEndpoint string `yaml:"rest_endpoint"`
	RestTokenURL string `yaml:"rest_token_url"`
}

// LoggingConfig configures the base zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the chi-based admin/ingest surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the root configuration object loaded from YAML.
type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	ECC        ECCConfig        `yaml:"ecc"`
	Locker     LockerConfig     `yaml:"locker"`
	Diagnostic DiagnosticConfig `yaml:"diagnostic"`
	Routing    RoutingConfig    `yaml:"routing"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Notify     NotifyConfig     `yaml:"notify"`
	Classify   ClassifyConfig   `yaml:"classify"`
	Logging    LoggingConfig    `yaml:"logging"`
	HTTP       HTTPConfig       `yaml:"http"`
}

func defaults() *Config {
	return &Config{
		Bus: BusConfig{
			MailboxDepth:   1000,
			SoftThreshold:  800,
			DefaultTimeout: 30 * time.Second,
		},
		ECC: ECCConfig{
			DefaultMaxReruns: 2,
		},
		Locker: LockerConfig{
			ClassificationRetries: 3,
			ClassificationBudget:  120 * time.Second,
			QuarantineDir:         "./data/quarantine",
			ManifestPath:          "./data/manifest.jsonl",
		},
		Diagnostic: DiagnosticConfig{
			LivenessInterval:   30 * time.Second,
			LivenessTimeout:    15 * time.Second,
			RollcallThrottle:   30 * time.Second,
			FaultVaultCap:      2000,
			FaultRetention:     2 * time.Hour,
			RepairQueueSoftCap: 800,
			RepairQueueHardCap: 1000,
			RepairWorkers:      4,
			FaultVaultPath:     "./data/faults.jsonl",
		},
		Classify: ClassifyConfig{
			Backend: "local",
			Timeout: 120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// Load reads and parses path, applying defaults for anything left zero and
// validating the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills any field left at its YAML-zero-value after a partial
// file was unmarshaled, matching the teacher's "minimal content" behavior.
func applyDefaults(cfg *Config) {
	d := defaults()
	if cfg.Bus.MailboxDepth == 0 {
		cfg.Bus.MailboxDepth = d.Bus.MailboxDepth
	}
	if cfg.Bus.SoftThreshold == 0 {
		cfg.Bus.SoftThreshold = d.Bus.SoftThreshold
	}
	if cfg.Bus.DefaultTimeout == 0 {
		cfg.Bus.DefaultTimeout = d.Bus.DefaultTimeout
	}
	if cfg.ECC.DefaultMaxReruns == 0 {
		cfg.ECC.DefaultMaxReruns = d.ECC.DefaultMaxReruns
	}
	if cfg.Locker.ClassificationRetries == 0 {
		cfg.Locker.ClassificationRetries = d.Locker.ClassificationRetries
	}
	if cfg.Locker.ClassificationBudget == 0 {
		cfg.Locker.ClassificationBudget = d.Locker.ClassificationBudget
	}
	if cfg.Locker.QuarantineDir == "" {
		cfg.Locker.QuarantineDir = d.Locker.QuarantineDir
	}
	if cfg.Locker.ManifestPath == "" {
		cfg.Locker.ManifestPath = d.Locker.ManifestPath
	}
	if cfg.Diagnostic.LivenessInterval == 0 {
		cfg.Diagnostic.LivenessInterval = d.Diagnostic.LivenessInterval
	}
	if cfg.Diagnostic.LivenessTimeout == 0 {
		cfg.Diagnostic.LivenessTimeout = d.Diagnostic.LivenessTimeout
	}
	if cfg.Diagnostic.RollcallThrottle == 0 {
		cfg.Diagnostic.RollcallThrottle = d.Diagnostic.RollcallThrottle
	}
	if cfg.Diagnostic.FaultVaultCap == 0 {
		cfg.Diagnostic.FaultVaultCap = d.Diagnostic.FaultVaultCap
	}
	if cfg.Diagnostic.FaultRetention == 0 {
		cfg.Diagnostic.FaultRetention = d.Diagnostic.FaultRetention
	}
	if cfg.Diagnostic.RepairQueueSoftCap == 0 {
		cfg.Diagnostic.RepairQueueSoftCap = d.Diagnostic.RepairQueueSoftCap
	}
	if cfg.Diagnostic.RepairQueueHardCap == 0 {
		cfg.Diagnostic.RepairQueueHardCap = d.Diagnostic.RepairQueueHardCap
	}
	if cfg.Diagnostic.RepairWorkers == 0 {
		cfg.Diagnostic.RepairWorkers = d.Diagnostic.RepairWorkers
	}
	if cfg.Diagnostic.FaultVaultPath == "" {
		cfg.Diagnostic.FaultVaultPath = d.Diagnostic.FaultVaultPath
	}
	if cfg.Classify.Backend == "" {
		cfg.Classify.Backend = d.Classify.Backend
	}
	if cfg.Classify.Timeout == 0 {
		cfg.Classify.Timeout = d.Classify.Timeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = d.HTTP.Addr
	}
}

var supportedClassifyBackends = map[string]bool{
	"local":     true,
	"anthropic": true,
	"bedrock":   true,
	"rest":      true,
}

func validate(cfg *Config) error {
	if cfg.Bus.MailboxDepth <= 0 {
		return fmt.Errorf("bus mailbox depth must be greater than 0")
	}
	if cfg.Bus.SoftThreshold <= 0 || cfg.Bus.SoftThreshold > cfg.Bus.MailboxDepth {
		return fmt.Errorf("bus soft threshold must be between 1 and mailbox depth")
	}
	if cfg.ECC.DefaultMaxReruns < 0 {
		return fmt.Errorf("ECC default max reruns must not be negative")
	}
	if cfg.Locker.ClassificationRetries < 0 {
		return fmt.Errorf("locker classification retries must not be negative")
	}
	if !supportedClassifyBackends[cfg.Classify.Backend] {
		return fmt.Errorf("unsupported classify backend: %s", cfg.Classify.Backend)
	}
	if cfg.Diagnostic.RepairQueueSoftCap > cfg.Diagnostic.RepairQueueHardCap {
		return fmt.Errorf("repair queue soft cap must not exceed hard cap")
	}
	if cfg.Diagnostic.RepairWorkers <= 0 {
		return fmt.Errorf("diagnostic repair workers must be greater than 0")
	}
	return nil
}
