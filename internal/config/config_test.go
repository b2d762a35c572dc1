package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFork_Defaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fork.yml", `
branches:
  - name: concise
    inject_message: "Answer in one sentence."
    model: claude-sonnet-4-20250514
  - name: careful
    model: openai/gpt-4o
    max_turns: 3
`)
	cfg, err := LoadFork(path)
	require.NoError(t, err)

	require.Len(t, cfg.Branches, 2)
	assert.Equal(t, DefaultMaxTurns, cfg.Branches[0].MaxTurns)
	assert.Equal(t, 3, cfg.Branches[1].MaxTurns)
	assert.Equal(t, "Answer in one sentence.", cfg.Branches[0].InjectMessage)
	assert.Equal(t, DefaultSettings(), cfg.Settings)
}

func TestLoadFork_SettingsInheritedAndOverridden(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fork.yml", `
settings:
  max_turns: 8
  timeout_seconds: 60
  save_results: false
  output_dir: ./out
  max_concurrency: 2
  provider: openai
branches:
  - name: a
    model: gpt-4o-mini
`)
	cfg, err := LoadFork(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Branches[0].MaxTurns)
	assert.Equal(t, 60, cfg.Settings.TimeoutSeconds)
	assert.False(t, cfg.Settings.SaveResults)
	assert.Equal(t, "./out", cfg.Settings.OutputDir)
	assert.Equal(t, 2, cfg.Settings.MaxConcurrency)
	assert.Equal(t, "openai", cfg.Settings.Provider)
}

func TestLoadFork_EnvSubstitution(t *testing.T) {
	t.Setenv("REPLAYLAB_TEST_MODEL", "claude-opus-4-20250514")
	t.Setenv("REPLAYLAB_TEST_TURNS", "7")
	path := writeFile(t, t.TempDir(), "fork.yml", `
settings:
  max_turns: ${REPLAYLAB_TEST_TURNS}
  output_dir: ${REPLAYLAB_TEST_UNSET_DIR:-/tmp/results}
branches:
  - name: env
    model: ${REPLAYLAB_TEST_MODEL}
    system_prompt: "keep ${REPLAYLAB_TEST_UNSET_VAR}"
`)
	cfg, err := LoadFork(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-20250514", cfg.Branches[0].Model)
	assert.Equal(t, 7, cfg.Branches[0].MaxTurns)
	assert.Equal(t, "/tmp/results", cfg.Settings.OutputDir)
	assert.Equal(t, "keep ${REPLAYLAB_TEST_UNSET_VAR}", cfg.Branches[0].SystemPrompt)
}

func TestLoadFork_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		message string
		detail  string
	}{
		{name: "empty", body: "", message: "configuration file is empty"},
		{name: "not a mapping", body: "- a\n- b\n", message: "must be a YAML mapping"},
		{name: "bad yaml", body: "branches: [\n", message: "invalid YAML syntax"},
		{name: "missing branches", body: "settings:\n  max_turns: 2\n", message: "missing required field 'branches'"},
		{
			name:    "unknown model",
			body:    "branches:\n  - name: x\n    model: gpt-9\n",
			message: "invalid model specified",
			detail:  "branches[0].model: unknown model 'gpt-9'",
		},
		{
			name:    "turns out of range",
			body:    "branches:\n  - name: x\n    model: gpt-4o\n    max_turns: 101\n",
			message: "invalid configuration",
			detail:  "branches[0].max_turns: must be between 1 and 100",
		},
		{
			name:    "timeout out of range",
			body:    "settings:\n  timeout_seconds: 0\nbranches:\n  - name: x\n    model: gpt-4o\n",
			message: "invalid configuration",
			detail:  "settings.timeout_seconds: must be between 1 and 3600",
		},
		{
			name:    "duplicate names",
			body:    "branches:\n  - name: x\n    model: gpt-4o\n  - name: x\n    model: gpt-4o\n",
			message: "invalid configuration",
			detail:  `branches[1].name: duplicate branch name "x"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "fork.yml", tt.body)
			_, err := LoadFork(path)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Message, tt.message)
			if tt.detail != "" {
				assert.Contains(t, ce.Details, tt.detail)
			}
		})
	}
}

func TestLoadFork_MissingAndDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFork(filepath.Join(dir, "nope.yml"))
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "not found")

	_, err = LoadFork(dir)
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "not a file")
}

func TestConfigError_Format(t *testing.T) {
	err := &ConfigError{Message: "bad", Details: []string{"one", "two"}}
	assert.Equal(t, "bad\n  - one\n  - two", err.Error())
	assert.Equal(t, "plain", (&ConfigError{Message: "plain"}).Error())
}

func TestIsKnownModel(t *testing.T) {
	assert.True(t, IsKnownModel("claude-sonnet-4-20250514"))
	assert.True(t, IsKnownModel("openai/gpt-4o"))
	assert.False(t, IsKnownModel("gpt-9"))
	assert.False(t, IsKnownModel(""))
}

func TestLoad_ProjectConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "replaylab.yml", `
archiveDir: /data/archive
dbPath: /data/replaylab.db
temporalAddress: localhost:7233
`)
	t.Setenv("TEMPORAL_ADDRESS", "temporal:7233")
	t.Setenv("REPLAYLAB_DB", "")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/data/archive", cfg.ArchiveDir)
	assert.Equal(t, "/data/replaylab.db", cfg.DBPath)
	assert.Equal(t, "temporal:7233", cfg.TemporalAddress)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("REPLAYLAB_ARCHIVE", "/env/archive")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/env/archive", cfg.ArchiveDir)
}
