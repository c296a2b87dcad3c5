// Copyright (c) 2025 Julian Hill
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Julian Hill

package eztools

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for yaml values like "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", value.Value)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ToolConfig overrides one registry entry per deployment.
type ToolConfig struct {
	Executable string   `yaml:"executable"`
	Timeout    Duration `yaml:"timeout"`
}

// Config is the worker configuration.
type Config struct {
	Concurrency    int                   `yaml:"concurrency"`
	ToolTimeout    Duration              `yaml:"tool_timeout"`
	GracePeriod    Duration              `yaml:"grace_period"`
	CaptureLimit   int                   `yaml:"capture_limit"`
	StagingDir     string                `yaml:"staging_dir"`
	SpoolDir       string                `yaml:"spool_dir"`
	ArtifactRoot   string                `yaml:"artifact_root"`
	ResultDB       string                `yaml:"result_db"`
	SpillThreshold int                   `yaml:"spill_threshold"`
	Tools          map[string]ToolConfig `yaml:"tools"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:  2,
		ToolTimeout:  Duration{defaultToolTimeout},
		GracePeriod:  Duration{defaultGracePeriod},
		CaptureLimit: defaultCaptureLimit,
		StagingDir:   "/var/lib/eztools/staging",
		SpoolDir:     "/var/lib/eztools/spool",
		ArtifactRoot: "/var/lib/eztools/artifacts",
	}
}

// LoadConfig reads a yaml configuration file over the defaults. A missing
// path returns the defaults unchanged.
func LoadConfig(fs afero.Fs, path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return config, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config")
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}
	return config, nil
}

// ToolOverrides converts the per-tool config section to registry overrides.
func (c *Config) ToolOverrides() map[ParserKind]ToolOverride {
	if len(c.Tools) == 0 {
		return nil
	}
	overrides := map[ParserKind]ToolOverride{}
	for name, tool := range c.Tools {
		overrides[ParserKind(name)] = ToolOverride{
			Executable: tool.Executable,
			Timeout:    tool.Timeout.Duration,
		}
	}
	return overrides
}
