package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/config"
	"upkeep/internal/domain"
)

func writeConfig(t *testing.T, workspace, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(config.Path(workspace), []byte(body), 0o644))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(Options{Workspace: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upk config init")
}

func TestLoadConfigAppliesEnv(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, config.GenerateDefault())
	t.Setenv("UPKEEP_JWT_SECRET", "from-env")
	t.Setenv("UPKEEP_CRACK_URL", "http://cracks:9000")
	cfg, err := LoadConfig(Options{Workspace: ws})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
	assert.Equal(t, "http://cracks:9000", cfg.Services.Crack.URL)
}

func TestNewLoggerJSON(t *testing.T) {
	cfg := config.Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"
	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "job_id", "j-1")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "j-1", line["job_id"])
}

func TestOpenWiresEngine(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `
notifications:
  webhook_url: http://127.0.0.1:1/hook
`)
	var logs bytes.Buffer
	a, err := Open(Options{Workspace: ws, LogOutput: &logs})
	require.NoError(t, err)
	defer a.Close()

	assert.NotEmpty(t, a.Applied)
	assert.Contains(t, logs.String(), "notifications via webhook")
	require.NoError(t, a.Ping(context.Background()))

	c, err := a.Engine.CreateCycle(context.Background(), domain.MaintenanceCycle{DeviceType: "pump", Frequency: domain.Weekly}, "tester")
	require.NoError(t, err)
	got, err := a.Engine.Repo.GetCycle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "pump", got.Name)

	sched, err := a.Scheduler()
	require.NoError(t, err)
	assert.Len(t, sched.Next(), 3)
}

func TestOpenTwiceAppliesMigrationsOnce(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, config.GenerateDefault())
	a, err := Open(Options{Workspace: ws, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(Options{Workspace: ws, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer b.Close()
	assert.Empty(t, b.Applied)
}
