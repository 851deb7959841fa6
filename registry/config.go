package registry

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/resumeapi/suiterun/types"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk registry layout shared by the YAML and TOML formats.
type fileConfig struct {
	Version  string         `yaml:"version" toml:"version"`
	Runner   string         `yaml:"runner" toml:"runner"`
	Defaults defaultsConfig `yaml:"defaults" toml:"defaults"`
	Stages   []StageConfig  `yaml:"stages" toml:"stages"`
	Batches  []batchConfig  `yaml:"batches" toml:"batches"`
	Tests    []testConfig   `yaml:"tests" toml:"tests"`
}

type defaultsConfig struct {
	Timeout *time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// StageConfig holds the per-category execution policy.
type StageConfig struct {
	Category      types.Category `yaml:"category" toml:"category"`
	Expected      int            `yaml:"expected,omitempty" toml:"expected,omitempty"`
	StopOnFailure bool           `yaml:"stop_on_failure,omitempty" toml:"stop_on_failure,omitempty"`
	Parallel      bool           `yaml:"parallel,omitempty" toml:"parallel,omitempty"`
	RequiredEnv   []string       `yaml:"required_env,omitempty" toml:"required_env,omitempty"`
	HealthURL     string         `yaml:"health_url,omitempty" toml:"health_url,omitempty"`
	Timeout       *time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// ExpandedHealthURL returns the health URL with environment variables substituted.
func (s StageConfig) ExpandedHealthURL() string {
	return strings.TrimSpace(expandEnv(s.HealthURL))
}

type batchConfig struct {
	ID       string         `yaml:"id" toml:"id"`
	Category types.Category `yaml:"category" toml:"category"`
	Target   string         `yaml:"target" toml:"target"`
	Command  string         `yaml:"command,omitempty" toml:"command,omitempty"`
	Timeout  *time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

type testConfig struct {
	ID          string         `yaml:"id" toml:"id"`
	Description string         `yaml:"description,omitempty" toml:"description,omitempty"`
	Target      string         `yaml:"target,omitempty" toml:"target,omitempty"`
	Command     string         `yaml:"command,omitempty" toml:"command,omitempty"`
	Category    types.Category `yaml:"category" toml:"category"`
	Priority    types.Priority `yaml:"priority" toml:"priority"`
	Module      string         `yaml:"module" toml:"module"`
	Timeout     *time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Batch       string         `yaml:"batch,omitempty" toml:"batch,omitempty"`
	Method      string         `yaml:"method,omitempty" toml:"method,omitempty"`
	Aliases     []string       `yaml:"aliases,omitempty" toml:"aliases,omitempty"`
}

// decodeConfig picks the decoder from the file extension. Anything that is
// not .toml is treated as YAML.
func decodeConfig(name string, data []byte) (*fileConfig, error) {
	var cfg fileConfig
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing toml registry: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys in toml registry: %v", undecoded)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml registry: %w", err)
		}
	}
	return &cfg, nil
}
