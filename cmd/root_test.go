//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"validate", "runs", "queue", "evidence", "providers", "migrate", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "provider-validator", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestValidateCommand_Flags(t *testing.T) {
	for _, name := range []string{"provider", "file", "job-type", "workers"} {
		assert.NotNil(t, validateCmd.Flags().Lookup(name), "validate should have --%s flag", name)
	}
	assert.Equal(t, "full_validation", validateCmd.Flags().Lookup("job-type").DefValue)
}

func TestQueueCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range queueCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "export", "transition"} {
		assert.True(t, names[name], "queue should have subcommand %q", name)
	}

	flag := queueExportCmd.Flags().Lookup("format")
	require.NotNil(t, flag)
	assert.Equal(t, "csv", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "errors", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
