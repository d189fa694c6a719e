package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terabyte/jiraview/internal/config"
)

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	stdout, _, err := runCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "query")
	assert.Contains(t, stdout, "cache")
	assert.Contains(t, stdout, "migrate")
}

func TestCacheStatsEmpty(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := runCommand(t, "cache", "stats", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "records: empty")
	assert.Contains(t, stdout, "actors: empty")
}

func TestCacheClearRequiresSelection(t *testing.T) {
	_, _, err := runCommand(t, "cache", "clear", "--cache-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing selected")
}

func TestCacheClearAll(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := runCommand(t, "cache", "clear", "--all", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "cleared 0 records, 0 actors")
}

func TestMigrateWithoutLegacyFile(t *testing.T) {
	stdout, _, err := runCommand(t, "migrate", "--cache-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "nothing to do")
}

func TestMigrateImportsLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"https://tracker.example.com":{"boards":{"timestamp":` +
		"9999999999" + `,"ttl":3600,"data":{"boards":[1]}}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache.json"), []byte(legacy), 0o600))

	stdout, _, err := runCommand(t, "migrate", "--cache-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "imported 1 entries")
	assert.NoFileExists(t, filepath.Join(dir, "cache.json"))
}

// queryHelper installs a fake jira-api that answers every search with the
// same canned result.
func queryHelper(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell helper script not supported on windows")
	}

	dir := t.TempDir()
	page := filepath.Join(dir, "page.json")
	require.NoError(t, os.WriteFile(page, []byte(
		`{"issues":[{"key":"INFRA-1","fields":{"updated":"2026-01-01T00:00:00.000+0000","summary":"fix the thing","status":{"name":"Open"}}}]}`,
	), 0o600))

	script := filepath.Join(dir, "jira-api")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat '"+page+"'\n"), 0o700))
	return script
}

func TestQueryEndToEnd(t *testing.T) {
	t.Setenv(config.EnvAPIHelper, queryHelper(t))
	dir := t.TempDir()

	stdout, _, err := runCommand(t, "query", "--wait", "--json", "--cache-dir", dir, "project = INFRA")
	require.NoError(t, err)

	var out struct {
		Status  string            `json:"status"`
		Records []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "current", out.Status)
	require.Len(t, out.Records, 1)
	assert.Contains(t, string(out.Records[0]), "INFRA-1")

	// Second invocation serves straight from the persisted cache.
	stdout, _, err = runCommand(t, "query", "--cache-dir", dir, "project = INFRA")
	require.NoError(t, err)
	assert.Contains(t, stdout, "INFRA-1")
	assert.Contains(t, stdout, "fix the thing")
	assert.Contains(t, stdout, "1 records")
}
