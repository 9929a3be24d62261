package logger

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "app.log")

	base, audit, closers, err := Build(Config{Level: "debug", Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)
	assert.Same(t, base, audit)

	base.Debug("gas estimated", slog.Uint64("gas", 21000))
	for _, c := range closers {
		require.NoError(t, c.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var record map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
	assert.Equal(t, "gas estimated", record["msg"])
	assert.EqualValues(t, 21000, record["gas"])
}

func TestBuildAuditRequiresPath(t *testing.T) {
	_, _, _, err := Build(Config{Audit: AuditConfig{Enabled: true}})
	assert.Error(t, err)
}

func TestAuditLoggerUsesSeparateFile(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit", "attempts.log")

	base, audit, closers, err := Build(Config{
		OutputPaths: []string{filepath.Join(dir, "app.log")},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	})
	require.NoError(t, err)
	assert.NotSame(t, base, audit)

	audit.Info("attempt finished", slog.String("status", "confirmed"))
	for _, c := range closers {
		require.NoError(t, c.Close())
	}

	content, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"status":"confirmed"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
