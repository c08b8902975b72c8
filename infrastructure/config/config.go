// Package config loads the process configuration: server, completion
// provider, session storage, observability and the domain tunables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domainconfig "canvaschat/domain/config"
)

// Environment names the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Session storage backends.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`
	LogLevel    string      `yaml:"log_level" validate:"oneof=debug info warn error"`

	Server   Server   `yaml:"server"`
	LLM      LLM      `yaml:"llm"`
	Sessions Sessions `yaml:"sessions"`
	Features Features `yaml:"features"`
	Tracing  Tracing  `yaml:"tracing"`
	CORS     CORS     `yaml:"cors"`

	Domain *domainconfig.DomainConfig `yaml:"domain" validate:"required"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-"`
}

// Server configuration
type Server struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxRequestBytes int64         `yaml:"max_request_bytes" validate:"gt=0"`
}

// LLM configures the completion provider.
type LLM struct {
	BaseURL        string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey         string        `yaml:"api_key"`
	DefaultModel   string        `yaml:"default_model" validate:"required"`
	MaxTokens      int           `yaml:"max_tokens" validate:"gte=0"`
	Temperature    float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxConcurrent  int64         `yaml:"max_concurrent" validate:"gte=1"`
	Breaker        Breaker       `yaml:"breaker"`
}

// Breaker configures the circuit breaker around the completion client.
type Breaker struct {
	MaxRequests      uint32        `yaml:"max_requests" validate:"gte=1"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"gt=0"`
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gte=1"`
}

// Sessions configures snapshot storage.
type Sessions struct {
	Backend   string `yaml:"backend" validate:"oneof=memory dynamodb"`
	TableName string `yaml:"table_name" validate:"required_if=Backend dynamodb"`
	Region    string `yaml:"region" validate:"required_if=Backend dynamodb"`
	// Endpoint overrides the DynamoDB endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// Features contains feature flags for the application
type Features struct {
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
	HotReload     bool `yaml:"hot_reload"`
}

// Tracing configures the OTLP exporter.
type Tracing struct {
	ServiceName string  `yaml:"service_name" validate:"required"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
	Insecure    bool    `yaml:"insecure"`
}

// CORS configuration
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" validate:"min=1"`
	MaxAge         int      `yaml:"max_age" validate:"gte=0"`
}

var validate = validator.New()

// Validate checks struct rules and then the domain tunables.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.Features.EnableTracing && c.Tracing.Endpoint == "" {
		return fmt.Errorf("invalid configuration: tracing.endpoint is required when tracing is enabled")
	}
	if err := c.Domain.Validate(); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// Clone returns a deep enough copy for a reload comparison.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Domain = c.Domain.Clone()
	cp.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	cp.LoadedFrom = append([]string(nil), c.LoadedFrom...)
	return &cp
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
