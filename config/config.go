// Package config loads the agent's TOML configuration and instantiates the
// plugins named in it. The loaded Config value is passed around explicitly;
// there is no process-wide configuration state.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/statspipe/statspipe"
	"github.com/statspipe/statspipe/plugins/inputs"
	"github.com/statspipe/statspipe/plugins/outputs"
	"github.com/statspipe/statspipe/plugins/processors"
)

// AgentConfig holds the settings of the agent loop itself.
type AgentConfig struct {
	// FlushTime is the poll interval for non-service inputs.
	FlushTime Duration `toml:"flush_time"`

	// BufferLimit is the high-water mark of each per-output buffer, in
	// batches. Above it the oldest batch is dropped.
	BufferLimit int `toml:"buffer_limit"`

	// DrainTimeout bounds how long shutdown waits for the outputs to drain
	// their buffers.
	DrainTimeout Duration `toml:"drain_timeout"`

	LogLevel string `toml:"log_level"`
}

// Config is the fully loaded agent configuration.
type Config struct {
	Agent      AgentConfig
	Inputs     []statspipe.Input
	Outputs    []statspipe.Output
	Processors []statspipe.Processor
}

// NewConfig returns a Config with the agent defaults applied.
func NewConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			FlushTime:    Duration(10 * time.Second),
			BufferLimit:  100,
			DrainTimeout: Duration(5 * time.Second),
			LogLevel:     "info",
		},
	}
}

type rawConfig struct {
	Agent      AgentConfig               `toml:"agent"`
	Inputs     map[string]toml.Primitive `toml:"inputs"`
	Outputs    map[string]toml.Primitive `toml:"outputs"`
	Processors map[string]toml.Primitive `toml:"processors"`
}

// Load reads the TOML file at path and builds the plugins it names.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	// Decoding on top of the defaults leaves absent keys untouched.
	raw := rawConfig{Agent: cfg.Agent}
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg.Agent = raw.Agent

	for _, name := range sortedKeys(raw.Inputs) {
		creator, ok := inputs.Inputs[name]
		if !ok {
			return nil, fmt.Errorf("unknown input plugin %q", name)
		}
		plugin := creator()
		if err := md.PrimitiveDecode(raw.Inputs[name], plugin); err != nil {
			return nil, fmt.Errorf("section [inputs.%s]: %w", name, err)
		}
		cfg.Inputs = append(cfg.Inputs, plugin)
	}

	for _, name := range sortedKeys(raw.Outputs) {
		creator, ok := outputs.Outputs[name]
		if !ok {
			return nil, fmt.Errorf("unknown output plugin %q", name)
		}
		plugin := creator()
		if err := md.PrimitiveDecode(raw.Outputs[name], plugin); err != nil {
			return nil, fmt.Errorf("section [outputs.%s]: %w", name, err)
		}
		cfg.Outputs = append(cfg.Outputs, plugin)
	}

	for _, name := range sortedKeys(raw.Processors) {
		creator, ok := processors.Processors[name]
		if !ok {
			return nil, fmt.Errorf("unknown processor plugin %q", name)
		}
		plugin := creator()
		if err := md.PrimitiveDecode(raw.Processors[name], plugin); err != nil {
			return nil, fmt.Errorf("section [processors.%s]: %w", name, err)
		}
		cfg.Processors = append(cfg.Processors, plugin)
	}

	return cfg, nil
}

func sortedKeys(m map[string]toml.Primitive) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
