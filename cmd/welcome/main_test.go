package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunReportsStartupFailure(t *testing.T) {
	t.Setenv("WELCOME_LOG_CONSOLE", "false")
	t.Setenv("WELCOME_DB_PATH", filepath.Join(t.TempDir(), "missing", "welcome.db"))

	assert.Error(t, run())
}

func TestRunReportsConfigurationFailure(t *testing.T) {
	t.Setenv("WELCOME_BLOCK_TIME", "soon")

	err := run()
	assert.ErrorContains(t, err, "configuration")
}
