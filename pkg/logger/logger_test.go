package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")

	require.NoError(t, Init(Config{Level: "debug", OutputPaths: []string{out}}))
	t.Cleanup(func() { _ = Sync() })

	Named("orchestrator").Debug("started", "run_id", "r-1")
	require.NoError(t, Sync())

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()

	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "started", entry["msg"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "r-1", entry["run_id"])
}

func TestAuditRequiresPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	assert.Error(t, err)
}

func TestAuditWritesToRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit", "audit.log")

	require.NoError(t, Init(Config{Audit: AuditConfig{Enabled: true, Path: path}}))
	t.Cleanup(func() { _ = Sync() })

	Audit().Info("workflow completed", "workflow", "weekly_report")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "weekly_report")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
}
