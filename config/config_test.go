package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statspipe/statspipe/config"
	"github.com/statspipe/statspipe/plugins/inputs/statsd"
	"github.com/statspipe/statspipe/plugins/outputs/graphite"
	"github.com/statspipe/statspipe/plugins/processors/rename"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statspipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[agent]
flush_time = "30s"
buffer_limit = 42
log_level = "debug"

[inputs.statsd]
service_address = ":8125"
percentile_thresholds = [50.0, 90.0, 99.0]
timestamp_window = 300
counters_bucket = "app_counters"

[outputs.graphite]
address = "graphite.internal:2003"
global_prefix = "stats"

[processors.rename]
name_prefix = "acme"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.Duration(30*time.Second), cfg.Agent.FlushTime)
	assert.Equal(t, 42, cfg.Agent.BufferLimit)
	assert.Equal(t, "debug", cfg.Agent.LogLevel)

	require.Len(t, cfg.Inputs, 1)
	in, ok := cfg.Inputs[0].(*statsd.Statsd)
	require.True(t, ok)
	assert.Equal(t, ":8125", in.ServiceAddress)
	assert.Equal(t, []float64{50, 90, 99}, in.PercentileThresholds)
	assert.Equal(t, config.Duration(300*time.Second), in.TimestampWindow)
	assert.Equal(t, "app_counters", in.CountersBucket)
	// Untouched options keep their registered defaults.
	assert.Equal(t, "gauges", in.GaugesBucket)

	require.Len(t, cfg.Outputs, 1)
	out, ok := cfg.Outputs[0].(*graphite.Graphite)
	require.True(t, ok)
	assert.Equal(t, "graphite.internal:2003", out.Address)
	assert.Equal(t, "stats", out.GlobalPrefix)

	require.Len(t, cfg.Processors, 1)
	proc, ok := cfg.Processors[0].(*rename.Rename)
	require.True(t, ok)
	require.NoError(t, proc.Init())
}

func TestLoadUnknownPlugin(t *testing.T) {
	path := writeConfig(t, `
[inputs.nonexistent]
whatever = 1
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestAgentDefaults(t *testing.T) {
	path := writeConfig(t, `
[inputs.statsd]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Duration(10*time.Second), cfg.Agent.FlushTime)
	assert.Equal(t, 100, cfg.Agent.BufferLimit)
}

func TestDurationForms(t *testing.T) {
	path := writeConfig(t, `
[agent]
flush_time = 15

[inputs.statsd]
timestamp_window = "2m"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Duration(15*time.Second), cfg.Agent.FlushTime)
	in := cfg.Inputs[0].(*statsd.Statsd)
	assert.Equal(t, config.Duration(2*time.Minute), in.TimestampWindow)
}
