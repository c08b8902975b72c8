package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domainconfig "canvaschat/domain/config"
)

// Loader builds a Config from layered sources. From lowest to highest
// priority:
//  1. defaults in code
//  2. <dir>/base.yaml
//  3. <dir>/<environment>.yaml
//  4. environment variables
type Loader struct {
	dir    string
	env    Environment
	getenv func(string) string
}

// NewLoader creates a loader reading files from dir.
func NewLoader(dir string, env Environment) *Loader {
	if dir == "" {
		dir = "config"
	}
	if env == "" {
		env = Development
	}
	return &Loader{dir: dir, env: env, getenv: os.Getenv}
}

// Dir is the directory the loader reads files from.
func (l *Loader) Dir() string { return l.dir }

// Load applies every source in order and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults(l.env)
	cfg.LoadedFrom = []string{"defaults"}

	for _, name := range []string{"base", strings.ToLower(string(l.env))} {
		path, err := l.loadFile(name, cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return nil, err
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	}

	l.applyEnv(cfg)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays <dir>/<name>.yaml (or .yml) onto cfg. Keys absent from
// the file keep their current values; unknown keys are an error.
func (l *Loader) loadFile(name string, cfg *Config) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return path, nil
	}
	return "", fs.ErrNotExist
}

func (l *Loader) applyEnv(cfg *Config) {
	if v := l.getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := l.getenv("SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := l.getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if v := l.getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := l.getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := l.getenv("LLM_DEFAULT_MODEL"); v != "" {
		cfg.LLM.DefaultModel = v
	}
	if v := l.getenv("MAX_CONCURRENT_GENERATIONS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LLM.MaxConcurrent = n
		}
	}

	if v := l.getenv("SESSION_BACKEND"); v != "" {
		cfg.Sessions.Backend = strings.ToLower(v)
	}
	if v := l.getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Sessions.TableName = v
	}
	if v := l.getenv("DYNAMODB_ENDPOINT"); v != "" {
		cfg.Sessions.Endpoint = v
	}
	if v := l.getenv("AWS_REGION"); v != "" {
		cfg.Sessions.Region = v
	}

	if v := l.getenv("ENABLE_METRICS"); v != "" {
		cfg.Features.EnableMetrics = parseBool(v)
	}
	if v := l.getenv("ENABLE_TRACING"); v != "" {
		cfg.Features.EnableTracing = parseBool(v)
	}
	if v := l.getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
}

// Defaults returns a configuration that runs without any files: in-memory
// sessions, no tracing, and the domain tunables of env.
func Defaults(env Environment) *Config {
	if env == "" {
		env = Development
	}
	return &Config{
		Environment: env,
		LogLevel:    "info",
		Server: Server{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // event streams stay open
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxRequestBytes: 1 << 20,
		},
		LLM: LLM{
			DefaultModel:   "gpt-4o-mini",
			Temperature:    0.7,
			RequestTimeout: 2 * time.Minute,
			MaxConcurrent:  4,
			Breaker: Breaker{
				MaxRequests:      1,
				Interval:         time.Minute,
				OpenTimeout:      30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Sessions: Sessions{
			Backend:   BackendMemory,
			TableName: "canvaschat-sessions",
			Region:    "us-east-1",
		},
		Features: Features{
			EnableMetrics: true,
			HotReload:     env == Development,
		},
		Tracing: Tracing{
			ServiceName: "canvaschat",
			SampleRate:  1,
			Insecure:    true,
		},
		CORS: CORS{
			AllowedOrigins: []string{"*"},
			MaxAge:         300,
		},
		Domain: domainconfig.LoadDomainConfig(string(env)),
	}
}

// EnvironmentFromEnv reads ENVIRONMENT, defaulting to development.
func EnvironmentFromEnv() Environment {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		return Environment(strings.ToLower(v))
	}
	return Development
}

// Load reads configuration from CONFIG_DIR (default "config") for the
// environment named by ENVIRONMENT.
func Load() (*Config, error) {
	return NewLoader(os.Getenv("CONFIG_DIR"), EnvironmentFromEnv()).Load()
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}
