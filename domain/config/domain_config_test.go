package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDomainConfig(t *testing.T) {
	assert.Equal(t, 50, LoadDomainConfig("production").HistoryLimit)
	assert.Equal(t, 500, LoadDomainConfig("development").HistoryLimit)
	assert.Equal(t, DefaultDomainConfig(), LoadDomainConfig("staging"))
}

func TestDomainConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *DomainConfig)
		wantErr bool
	}{
		{"defaults", func(c *DomainConfig) {}, false},
		{"zero spacing", func(c *DomainConfig) { c.LayerSpacing = 0 }, true},
		{"negative padding", func(c *DomainConfig) { c.NodePadding = -1 }, true},
		{"zero padding", func(c *DomainConfig) { c.NodePadding = 0 }, false},
		{"no rounds", func(c *DomainConfig) { c.MaxOverlapRounds = 0 }, true},
		{"no chars per token", func(c *DomainConfig) { c.CharsPerToken = 0 }, true},
		{"no history", func(c *DomainConfig) { c.HistoryLimit = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultDomainConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDomainConfig_CloneIsIndependent(t *testing.T) {
	c := DefaultDomainConfig()
	cp := c.Clone()
	cp.LayerSpacing = 1
	assert.Equal(t, 480.0, c.LayerSpacing)
}
