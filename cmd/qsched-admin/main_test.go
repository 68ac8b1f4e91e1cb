package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := "tasks:\n" +
		"  - name: nightly-report\n" +
		"    command: \"./report.sh\"\n" +
		"    schedule:\n" +
		"      type: DAILY\n" +
		"      time_of_day: \"02:00\"\n" +
		"  - name: heartbeat\n" +
		"    command: \"./ping.sh\"\n" +
		"    schedule:\n" +
		"      type: INTERVAL\n" +
		"      interval: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunList(t *testing.T) {
	path := writeCatalogFile(t)
	err := run([]string{"list", "-file", path})
	assert.NoError(t, err)
}

func TestRunQuery_FiltersByScheduleType(t *testing.T) {
	path := writeCatalogFile(t)
	err := run([]string{"query", "-file", path, "-query", "tasks[?schedule.type=='DAILY'].name"})
	assert.NoError(t, err)
}

func TestRunQuery_InvalidExpression(t *testing.T) {
	path := writeCatalogFile(t)
	err := run([]string{"query", "-file", path, "-query", "tasks[?"})
	assert.Error(t, err)
}

func TestRun_MissingFile(t *testing.T) {
	err := run([]string{"list"})
	assert.Error(t, err)
}

func TestRun_UnknownSubcommand(t *testing.T) {
	err := run([]string{"frobnicate"})
	assert.Error(t, err)
}
