// Package config provides configuration loading for limbodancer-mcp.
package config

import (
	"fmt"
	"time"

	"github.com/limbodancer/limbodancer-mcp/internal/logging"
	"github.com/limbodancer/limbodancer-mcp/internal/tenancy"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig           `koanf:"server"`
	Tenancy       tenancy.ResolverConfig `koanf:"tenancy"`
	Auth          AuthConfig             `koanf:"auth"`
	Logging       logging.Config         `koanf:"logging"`
	Observability ObservabilityConfig    `koanf:"observability"`
	Resilience    ResilienceConfig       `koanf:"resilience"`
	Orchestrator  OrchestratorConfig     `koanf:"orchestrator"`
	Ontology      OntologyConfig         `koanf:"ontology"`
	History       HistoryConfig          `koanf:"history"`
	Vector        VectorConfig           `koanf:"vector"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	// HMACSecret verifies HS256 tokens. When empty and AllowUnverified is
	// set, tokens are parsed without signature verification (development).
	HMACSecret      string `koanf:"hmac_secret"`
	AllowUnverified bool   `koanf:"allow_unverified"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	Insecure       bool   `koanf:"insecure"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	TracesEnabled  bool   `koanf:"traces_enabled"`
}

// ResilienceConfig holds the tool execution pipeline settings.
// Every constant the pipeline uses is configurable.
type ResilienceConfig struct {
	MaxConcurrentToolExecutions int64         `koanf:"max_concurrent_tool_executions"`
	PermitWait                  time.Duration `koanf:"permit_wait"`
	DefaultTimeout              time.Duration `koanf:"default_timeout"`

	// ToolTimeouts overrides the execution deadline per tool name. Tools
	// not listed use DefaultTimeout.
	ToolTimeouts map[string]time.Duration `koanf:"tool_timeouts"`

	RetryMaxAttempts int           `koanf:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay    time.Duration `koanf:"retry_max_delay"`
	RetryJitter      float64       `koanf:"retry_jitter"`

	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerSamplingDuration time.Duration `koanf:"breaker_sampling_duration"`
	BreakerBreakDuration    time.Duration `koanf:"breaker_break_duration"`
}

// OrchestratorConfig holds chat stream settings.
type OrchestratorConfig struct {
	ChannelCapacity   int           `koanf:"channel_capacity"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// OntologyConfig holds governance gate thresholds.
type OntologyConfig struct {
	PublishMinConfidence  float64 `koanf:"publish_min_confidence"`
	PublishMaxComplexity  int     `koanf:"publish_max_complexity"`
	PublishMaxDepth       int     `koanf:"publish_max_depth"`
	ProposedMinConfidence float64 `koanf:"proposed_min_confidence"`
	ProposedMaxComplexity int     `koanf:"proposed_max_complexity"`
	ProposedMaxDepth      int     `koanf:"proposed_max_depth"`
}

// HistoryConfig holds the SQL history store settings.
type HistoryConfig struct {
	// DSN is a postgres connection string. Empty selects the in-memory store.
	DSN string `koanf:"dsn"`
}

// VectorConfig holds the vector index settings.
type VectorConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     string `koanf:"api_key"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
	// InMemory selects the in-process index instead of qdrant.
	InMemory bool `koanf:"in_memory"`
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Resilience.MaxConcurrentToolExecutions <= 0 {
		return fmt.Errorf("max_concurrent_tool_executions must be positive")
	}
	if c.Resilience.RetryJitter < 0 || c.Resilience.RetryJitter > 1 {
		return fmt.Errorf("retry_jitter must be in [0,1]")
	}
	if c.Orchestrator.ChannelCapacity <= 0 {
		return fmt.Errorf("channel_capacity must be positive")
	}
	if c.Ontology.PublishMinConfidence < c.Ontology.ProposedMinConfidence {
		return fmt.Errorf("publish_min_confidence must be >= proposed_min_confidence")
	}
	if !c.Vector.InMemory {
		if c.Vector.Port <= 0 || c.Vector.Port > 65535 {
			return fmt.Errorf("invalid vector port: %d", c.Vector.Port)
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Tenancy.DefaultPackageID == "" {
		cfg.Tenancy.DefaultPackageID = "core"
	}
	if cfg.Tenancy.DefaultChannelID == "" {
		cfg.Tenancy.DefaultChannelID = "default"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "limbodancer-mcp"
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = "dev"
	}

	if cfg.Resilience.MaxConcurrentToolExecutions == 0 {
		cfg.Resilience.MaxConcurrentToolExecutions = 32
	}
	if cfg.Resilience.PermitWait == 0 {
		cfg.Resilience.PermitWait = 250 * time.Millisecond
	}
	if cfg.Resilience.DefaultTimeout == 0 {
		cfg.Resilience.DefaultTimeout = 30 * time.Second
	}
	if cfg.Resilience.RetryMaxAttempts == 0 {
		cfg.Resilience.RetryMaxAttempts = 3
	}
	if cfg.Resilience.RetryBaseDelay == 0 {
		cfg.Resilience.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.Resilience.RetryMaxDelay == 0 {
		cfg.Resilience.RetryMaxDelay = 5 * time.Second
	}
	if cfg.Resilience.RetryJitter == 0 {
		cfg.Resilience.RetryJitter = 0.2
	}
	if cfg.Resilience.BreakerFailureThreshold == 0 {
		cfg.Resilience.BreakerFailureThreshold = 5
	}
	if cfg.Resilience.BreakerSamplingDuration == 0 {
		cfg.Resilience.BreakerSamplingDuration = 30 * time.Second
	}
	if cfg.Resilience.BreakerBreakDuration == 0 {
		cfg.Resilience.BreakerBreakDuration = 15 * time.Second
	}

	if cfg.Orchestrator.ChannelCapacity == 0 {
		cfg.Orchestrator.ChannelCapacity = 256
	}
	if cfg.Orchestrator.HeartbeatInterval == 0 {
		cfg.Orchestrator.HeartbeatInterval = 15 * time.Second
	}

	if cfg.Ontology.PublishMinConfidence == 0 {
		cfg.Ontology.PublishMinConfidence = 0.85
	}
	if cfg.Ontology.PublishMaxComplexity == 0 {
		cfg.Ontology.PublishMaxComplexity = 5
	}
	if cfg.Ontology.PublishMaxDepth == 0 {
		cfg.Ontology.PublishMaxDepth = 4
	}
	if cfg.Ontology.ProposedMinConfidence == 0 {
		cfg.Ontology.ProposedMinConfidence = 0.5
	}
	if cfg.Ontology.ProposedMaxComplexity == 0 {
		cfg.Ontology.ProposedMaxComplexity = 9
	}
	if cfg.Ontology.ProposedMaxDepth == 0 {
		cfg.Ontology.ProposedMaxDepth = 9
	}

	if cfg.Vector.Host == "" {
		cfg.Vector.Host = "localhost"
	}
	if cfg.Vector.Port == 0 {
		cfg.Vector.Port = 6334
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "limbodancer_memory"
	}
	if cfg.Vector.VectorSize == 0 {
		cfg.Vector.VectorSize = 1536
	}
}
