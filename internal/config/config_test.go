package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skylark/internal/conflict"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
conflicts:
  date_rule: end
webhooks:
  - url: https://hooks.example.com/fleet
    events: [assignment.*]
`))
	require.NoError(t, err)
	assert.Equal(t, conflict.DateRuleEnd, cfg.Conflicts.DateRule)
	assert.Equal(t, 3, cfg.Fleet.IDWidth)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	require.Len(t, cfg.Webhooks, 1)
	assert.True(t, cfg.Webhooks[0].Active())
}

func TestFromTOML(t *testing.T) {
	cfg, err := FromTOML([]byte(`
[fleet]
name = "west"
id_width = 4

[unavailable]
pilot_status = "On Leave"

[[webhooks]]
url = "http://127.0.0.1:9000/hook"
enabled = false
`))
	require.NoError(t, err)
	assert.Equal(t, "west", cfg.Fleet.Name)
	assert.Equal(t, 4, cfg.Fleet.IDWidth)
	assert.Equal(t, "On Leave", cfg.Unavailable.PilotStatus)
	require.Len(t, cfg.Webhooks, 1)
	assert.False(t, cfg.Webhooks[0].Active())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"date rule":    "conflicts:\n  date_rule: middle\n",
		"id width":     "fleet:\n  id_width: 0\n",
		"log level":    "log:\n  level: loud\n",
		"webhook url":  "webhooks:\n  - events: [x]\n",
		"webhook http": "webhooks:\n  - url: ftp://example.com\n",
		"drone status": "unavailable:\n  drone_status: Assigned\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skylark.toml"), []byte("[conflicts]\ndate_rule = \"end\"\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, conflict.DateRuleEnd, cfg.Conflicts.DateRule)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skylark.yml"), []byte("fleet:\n  name: yaml-wins\n"), 0o644))
	assert.Equal(t, filepath.Join(dir, "skylark.yml"), Path(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skylark.yml"), []byte("fleet: [broken"), 0o644))
	_, err = LoadOptional(dir)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1))
	_, err = NewLogger(LogConfig{Level: "chatty"})
	assert.Error(t, err)
}
