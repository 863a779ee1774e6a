package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8001", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.CRM.Timeout.Std())
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, "memory", cfg.State.Driver)
	assert.Equal(t, "memory", cfg.TaskQueue.Driver)
	assert.Equal(t, "memory", cfg.Storage.TaskStore.Driver)
	assert.Equal(t, "/ws", cfg.Broadcaster.Path)
	assert.Equal(t, 1, cfg.TaskQueue.MaxAttempts)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
server:
  address: ":9000"
crm:
  base_url: http://crm.local
  timeout: 3s
state:
  driver: redis
  redis:
    addr: localhost:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "http://crm.local", cfg.CRM.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.CRM.Timeout.Std())
	assert.Equal(t, "redis", cfg.State.Driver)
	assert.Equal(t, "agent:workflow_state:", cfg.State.Redis.KeyPrefix)
}

func TestLoadJSONWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.json", `{"llm":{"model":"gpt-4o-mini","timeout":"30s"}}`)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_MODEL", "gpt-4.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout.Std())
}

func TestLoadDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.json", `{}`)
	writeFile(t, dir, ".env", "API_BASE=http://from-dotenv:8000\n")
	t.Cleanup(func() { _ = os.Unsetenv("API_BASE") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-dotenv:8000", cfg.CRM.BaseURL)
}

func TestLoadRejectsIncompleteDriver(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.json", `{"task_queue":{"driver":"rabbitmq"}}`)

	_, err := Load(path)
	assert.Error(t, err)

	path = writeFile(t, dir, "bad.json", `{"state":{"driver":"etcd"}}`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsIterationCapAboveLimit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", "agent:\n  max_iterations: 25\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")

	path = writeFile(t, dir, "tight.yaml", "agent:\n  max_iterations: 4\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
