package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func testLoader(dir string, env Environment, vars map[string]string) *Loader {
	l := NewLoader(dir, env)
	l.getenv = func(k string) string { return vars[k] }
	return l
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := testLoader(t.TempDir(), Development, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, BackendMemory, cfg.Sessions.Backend)
	assert.Equal(t, 500, cfg.Domain.HistoryLimit)
	assert.True(t, cfg.Features.HotReload)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)
}

func TestLoad_LayersInPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
log_level: debug
server:
  address: ":9000"
llm:
  default_model: base-model
  max_concurrent: 2
domain:
  layer_spacing: 300
  chars_per_token: 3.5
`)
	writeFile(t, dir, "production.yaml", `
llm:
  default_model: prod-model
domain:
  history_limit: 20
`)

	cfg, err := testLoader(dir, Production, map[string]string{
		"MAX_CONCURRENT_GENERATIONS": "8",
		"LOG_LEVEL":                  "WARN",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "prod-model", cfg.LLM.DefaultModel)
	assert.Equal(t, int64(8), cfg.LLM.MaxConcurrent)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 300.0, cfg.Domain.LayerSpacing)
	assert.Equal(t, 3.5, cfg.Domain.CharsPerToken)
	assert.Equal(t, 20, cfg.Domain.HistoryLimit)
	assert.Equal(t, 200, cfg.Domain.MaxProbeAttempts, "untouched keys keep their defaults")
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{
		"defaults",
		filepath.Join(dir, "base.yaml"),
		filepath.Join(dir, "production.yaml"),
		"environment",
	}, cfg.LoadedFrom)
}

func TestLoad_Durations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yml", `
server:
  read_timeout: 5s
domain:
  session_ttl: 2h
`)
	cfg, err := testLoader(dir, Staging, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Domain.SessionTTL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		vars    map[string]string
		wantErr string
	}{
		{
			name:    "unknown key",
			file:    "servr:\n  address: x\n",
			wantErr: "field servr not found",
		},
		{
			name:    "malformed yaml",
			file:    "server: [\n",
			wantErr: "failed to parse",
		},
		{
			name:    "dynamodb without table",
			file:    "sessions:\n  backend: dynamodb\n  table_name: \"\"\n",
			wantErr: "Sessions.TableName",
		},
		{
			name:    "bad session backend",
			vars:    map[string]string{"SESSION_BACKEND": "redis"},
			wantErr: "Sessions.Backend",
		},
		{
			name:    "tracing without endpoint",
			vars:    map[string]string{"ENABLE_TRACING": "true"},
			wantErr: "tracing.endpoint",
		},
		{
			name:    "domain rule",
			file:    "domain:\n  history_limit: 0\n",
			wantErr: "history_limit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				writeFile(t, dir, "base.yaml", tt.file)
			}
			_, err := testLoader(dir, Development, tt.vars).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_EmptyFileIsAllowed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "")
	cfg, err := testLoader(dir, Development, nil).Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.LoadedFrom, filepath.Join(dir, "base.yaml"))
}

func TestClone_IsIndependent(t *testing.T) {
	cfg := Defaults(Development)
	cp := cfg.Clone()
	cp.Domain.HistoryLimit = 1
	cp.CORS.AllowedOrigins[0] = "http://example.com"
	assert.Equal(t, 500, cfg.Domain.HistoryLimit)
	assert.Equal(t, "*", cfg.CORS.AllowedOrigins[0])
}

func TestWatcher_ReloadNotifiesOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "domain:\n  history_limit: 10\n")
	loader := testLoader(dir, Development, nil)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	var got []int
	w.OnChange(func(c *Config) { got = append(got, c.Domain.HistoryLimit) })

	w.Reload()
	assert.Empty(t, got, "unchanged files do not notify")

	writeFile(t, dir, "base.yaml", "domain:\n  history_limit: 25\n")
	w.Reload()
	assert.Equal(t, []int{25}, got)
	assert.Equal(t, 25, w.Current().Domain.HistoryLimit)

	writeFile(t, dir, "base.yaml", "domain:\n  history_limit: -1\n")
	w.Reload()
	assert.Equal(t, []int{25}, got, "invalid files are ignored")
	assert.Equal(t, 25, w.Current().Domain.HistoryLimit)
}

func TestWatcher_CallbackPanicIsContained(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "log_level: info\n")
	loader := testLoader(dir, Development, nil)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	var called atomic.Bool
	w.OnChange(func(*Config) { panic("boom") })
	w.OnChange(func(*Config) { called.Store(true) })

	writeFile(t, dir, "base.yaml", "log_level: debug\n")
	assert.NotPanics(t, w.Reload)
	assert.True(t, called.Load())
}

func TestWatcher_RunPicksUpFileWrites(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "domain:\n  history_limit: 10\n")
	loader := testLoader(dir, Development, nil)
	initial, err := loader.Load()
	require.NoError(t, err)

	w, err := NewWatcher(loader, initial, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)

	var limit atomic.Int64
	w.OnChange(func(c *Config) { limit.Store(int64(c.Domain.HistoryLimit)) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	writeFile(t, dir, "base.yaml", "domain:\n  history_limit: 42\n")
	assert.Eventually(t, func() bool { return limit.Load() == 42 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
