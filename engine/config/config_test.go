package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDoc = `
logLevel: debug
merge:
  yieldEvery: 10
  yieldDelay: 250ms
  coalesce: true
system:
  startupGrace: 1s
bench:
  gridSide: 4
  movedFraction: 0.5
`

const tomlDoc = `
logLevel = "warn"

[merge]
bakeWorkers = 8
yieldDelay = "2ms"

[gpu]
enabled = true
forceFallback = true
`

func TestParseYAML(t *testing.T) {
	c, err := Parse([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, 10, c.Merge.YieldEvery)
	assert.Equal(t, Duration(250*time.Millisecond), c.Merge.YieldDelay)
	assert.True(t, c.Merge.Coalesce)
	assert.Equal(t, 4, c.Merge.BakeWorkers)
	assert.Equal(t, Duration(time.Second), c.System.StartupGrace)
	assert.Equal(t, 3, c.System.LoadingThreshold)
	assert.Equal(t, 4, c.Bench.GridSide)
	assert.Equal(t, 0.5, c.Bench.MovedFraction)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseTOML(t *testing.T) {
	c, err := Parse([]byte(tomlDoc), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, 8, c.Merge.BakeWorkers)
	assert.Equal(t, 50, c.Merge.YieldEvery)
	assert.Equal(t, Duration(2*time.Millisecond), c.Merge.YieldDelay)
	assert.True(t, c.GPU.Enabled)
	assert.True(t, c.GPU.ForceFallback)
	assert.Equal(t, uint64(256), c.GPU.MinCapacity)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}

func TestExplicitZerosOverrideDefaults(t *testing.T) {
	const doc = `
merge:
  yieldEvery: 0
system:
  startupGrace: 0s
bench:
  movedFraction: 0
`
	c, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)
	assert.Zero(t, c.Merge.YieldEvery)
	assert.Zero(t, c.System.StartupGrace)
	assert.Zero(t, c.Bench.MovedFraction)
	assert.Equal(t, 0.05, c.Bench.RemovedFraction)

	c, err = Parse([]byte("[merge]\nyieldEvery = 0\n[system]\nstartupGrace = \"0s\"\n"), FormatTOML)
	require.NoError(t, err)
	assert.Zero(t, c.Merge.YieldEvery)
	assert.Zero(t, c.System.StartupGrace)
	assert.Equal(t, 4, c.Merge.BakeWorkers)
}

func TestParseRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "fraction above one", doc: "bench:\n  movedFraction: 1.5\n"},
		{name: "negative removal", doc: "bench:\n  removedFraction: -0.1\n"},
		{name: "unknown level", doc: "logLevel: loud\n"},
		{name: "bad duration", doc: "merge:\n  yieldDelay: soon\n"},
		{name: "negative yield cadence", doc: "merge:\n  yieldEvery: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			assert.Error(t, err)
		})
	}
}

func TestFormatOf(t *testing.T) {
	f, err := FormatOf("conf/bench.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = FormatOf("file:///etc/bench.toml")
	require.NoError(t, err)
	assert.Equal(t, FormatTOML, f)

	_, err = FormatOf("bench.json")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadFromFile(t *testing.T) {
	location := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(location, []byte(yamlDoc), 0o644))

	c, err := Load(context.Background(), nil, location)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Merge.YieldEvery)

	_, err = Load(context.Background(), nil, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultsProduceOptions(t *testing.T) {
	c := Default()
	assert.Equal(t, "info", c.LogLevel)
	assert.Len(t, c.GroupOptions(slog.Default()), 5)
	assert.Len(t, c.SystemOptions(slog.Default()), 5)
	assert.Len(t, c.UploaderOptions(slog.Default()), 2)
}
