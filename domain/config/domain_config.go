package config

import (
	"fmt"
	"time"
)

// DomainConfig holds the tunables of the canvas engine: layout geometry,
// context estimation and history bounds.
type DomainConfig struct {
	// Hierarchical layout
	LayerSpacing     float64 `yaml:"layer_spacing"`
	RootOriginX      float64 `yaml:"root_origin_x"`
	RootOriginY      float64 `yaml:"root_origin_y"`
	ProbeStep        float64 `yaml:"probe_step"`
	MaxProbeAttempts int     `yaml:"max_probe_attempts"`
	NodePadding      float64 `yaml:"node_padding"`

	// Overlap resolution
	MaxOverlapRounds int `yaml:"max_overlap_rounds"`

	// Force-directed layout
	ForceIterations  int     `yaml:"force_iterations"`
	ForceIdealLength float64 `yaml:"force_ideal_length"`
	ForceSeed        int64   `yaml:"force_seed"`

	// Auto-positioning of a single new node
	AutoPositionGap float64 `yaml:"auto_position_gap"`

	// Context
	CharsPerToken float64 `yaml:"chars_per_token"`

	// History
	HistoryLimit int `yaml:"history_limit"`

	// Sessions
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		LayerSpacing:     480,
		RootOriginX:      100,
		RootOriginY:      100,
		ProbeStep:        40,
		MaxProbeAttempts: 200,
		NodePadding:      20,

		MaxOverlapRounds: 50,

		ForceIterations:  300,
		ForceIdealLength: 400,
		ForceSeed:        1,

		AutoPositionGap: 80,

		// Rough average for English text with BPE tokenizers.
		CharsPerToken: 4,

		HistoryLimit: 100,

		SessionTTL: 24 * time.Hour,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.HistoryLimit = 50
	config.SessionTTL = 12 * time.Hour
	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()
	config.HistoryLimit = 500
	config.MaxOverlapRounds = 200
	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Clone returns a copy safe to hand to another goroutine.
func (c *DomainConfig) Clone() *DomainConfig {
	cp := *c
	return &cp
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	switch {
	case c.LayerSpacing <= 0:
		return fmt.Errorf("layer_spacing must be positive, got %v", c.LayerSpacing)
	case c.ProbeStep <= 0:
		return fmt.Errorf("probe_step must be positive, got %v", c.ProbeStep)
	case c.MaxProbeAttempts < 1:
		return fmt.Errorf("max_probe_attempts must be at least 1, got %d", c.MaxProbeAttempts)
	case c.NodePadding < 0:
		return fmt.Errorf("node_padding must not be negative, got %v", c.NodePadding)
	case c.MaxOverlapRounds < 1:
		return fmt.Errorf("max_overlap_rounds must be at least 1, got %d", c.MaxOverlapRounds)
	case c.ForceIterations < 1:
		return fmt.Errorf("force_iterations must be at least 1, got %d", c.ForceIterations)
	case c.ForceIdealLength <= 0:
		return fmt.Errorf("force_ideal_length must be positive, got %v", c.ForceIdealLength)
	case c.CharsPerToken <= 0:
		return fmt.Errorf("chars_per_token must be positive, got %v", c.CharsPerToken)
	case c.HistoryLimit < 1:
		return fmt.Errorf("history_limit must be at least 1, got %d", c.HistoryLimit)
	}
	return nil
}
