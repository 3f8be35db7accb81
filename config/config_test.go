package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.CascadeDepth)
	assert.Equal(t, 1000, cfg.MaxQueueSize)
}

func TestLoad_FillsInDeclaredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cascade_depth: 5
rule_files:
  - rules/supplier.dsl
action_files:
  - actions/purchase_order.dsl
postgres:
  url: postgres://localhost:5432/rulegraph
  graph_name: itsm
nats:
  url: nats://localhost:4222
  subject: rulegraph.changes
  stream: RULEGRAPH
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.CascadeDepth)
	assert.Equal(t, []string{"rules/supplier.dsl"}, cfg.RuleFiles)
	assert.Equal(t, []string{"actions/purchase_order.dsl"}, cfg.ActionFiles)
	assert.Equal(t, "postgres://localhost:5432/rulegraph", cfg.Postgres.URL)
	assert.Equal(t, "itsm", cfg.Postgres.GraphName)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "rulegraph.changes", cfg.NATS.Subject)
	assert.Equal(t, "RULEGRAPH", cfg.NATS.Stream)
}

func TestLoad_MissingCascadeDepthFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dsl_glob: "dsl/**/*.dsl"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.CascadeDepth)
	assert.Equal(t, "dsl/**/*.dsl", cfg.DSLGlob)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}

func TestLoad_InvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
