// Package config provides configuration loading for frictiond.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults filling the gaps.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete frictiond configuration.
type Config struct {
	Workspace     WorkspaceConfig     `koanf:"workspace"`
	Server        ServerConfig        `koanf:"server"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Detector      DetectorConfig      `koanf:"detector"`
	Watch         WatchConfig         `koanf:"watch"`
	NATS          NATSConfig          `koanf:"nats"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// WorkspaceConfig scopes the files a detection cycle scans.
type WorkspaceConfig struct {
	Root        string   `koanf:"root"`
	Extensions  []string `koanf:"extensions"`
	IgnoreDirs  []string `koanf:"ignore_dirs"`
	MaxFiles    int      `koanf:"max_files"`
	MaxFileSize int64    `koanf:"max_file_size"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// OrchestratorConfig holds the cycle cadence and limits.
type OrchestratorConfig struct {
	Interval                  time.Duration `koanf:"interval"`
	MaxConcurrentEliminations int           `koanf:"max_concurrent_eliminations"`
	EscalationThreshold       int           `koanf:"escalation_threshold"`
	ScoreEscalationThreshold  float64       `koanf:"score_escalation_threshold"`
	FlowHistoryLimit          int           `koanf:"flow_history_limit"`
}

// DetectorConfig holds the knobs shared by all detectors.
type DetectorConfig struct {
	HistoryLimit      int           `koanf:"history_limit"`
	StaleAfter        time.Duration `koanf:"stale_after"`
	RollbackTimeout   time.Duration `koanf:"rollback_timeout"`
	AutoFixConfidence float64       `koanf:"auto_fix_confidence"`
}

// WatchConfig controls filesystem-triggered detection cycles.
type WatchConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Debounce time.Duration `koanf:"debounce"`
}

// NATSConfig holds the escalation publisher settings. An empty URL
// disables NATS escalation; the log sink always runs.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}
	if cfg.Workspace.MaxFiles == 0 {
		cfg.Workspace.MaxFiles = 500
	}
	if cfg.Workspace.MaxFileSize == 0 {
		cfg.Workspace.MaxFileSize = 1024 * 1024
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9600
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Orchestrator.Interval == 0 {
		cfg.Orchestrator.Interval = 30 * time.Second
	}
	if cfg.Orchestrator.MaxConcurrentEliminations == 0 {
		cfg.Orchestrator.MaxConcurrentEliminations = 5
	}
	if cfg.Orchestrator.EscalationThreshold == 0 {
		cfg.Orchestrator.EscalationThreshold = 3
	}
	if cfg.Orchestrator.ScoreEscalationThreshold == 0 {
		cfg.Orchestrator.ScoreEscalationThreshold = 0.3
	}
	if cfg.Orchestrator.FlowHistoryLimit == 0 {
		cfg.Orchestrator.FlowHistoryLimit = 256
	}

	if cfg.Detector.HistoryLimit == 0 {
		cfg.Detector.HistoryLimit = 512
	}
	if cfg.Detector.StaleAfter == 0 {
		cfg.Detector.StaleAfter = 10 * time.Minute
	}
	if cfg.Detector.RollbackTimeout == 0 {
		cfg.Detector.RollbackTimeout = 30 * time.Second
	}
	if cfg.Detector.AutoFixConfidence == 0 {
		cfg.Detector.AutoFixConfidence = 0.8
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "frictiond.escalations"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "frictiond"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Orchestrator.Interval <= 0 {
		return fmt.Errorf("orchestrator interval must be positive, got %s", c.Orchestrator.Interval)
	}
	if c.Orchestrator.MaxConcurrentEliminations < 1 {
		return fmt.Errorf("max_concurrent_eliminations must be at least 1, got %d", c.Orchestrator.MaxConcurrentEliminations)
	}
	if c.Orchestrator.ScoreEscalationThreshold < 0 || c.Orchestrator.ScoreEscalationThreshold > 1 {
		return fmt.Errorf("score_escalation_threshold must be in [0,1], got %f", c.Orchestrator.ScoreEscalationThreshold)
	}
	if c.Detector.AutoFixConfidence < 0 || c.Detector.AutoFixConfidence > 1 {
		return fmt.Errorf("auto_fix_confidence must be in [0,1], got %f", c.Detector.AutoFixConfidence)
	}
	if c.Watch.Enabled && c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch debounce must be positive, got %s", c.Watch.Debounce)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q", c.Logging.Format)
	}
	switch c.Observability.OTLPProtocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("invalid otlp_protocol: %q", c.Observability.OTLPProtocol)
	}
	return nil
}
