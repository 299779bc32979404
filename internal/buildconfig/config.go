// Package buildconfig implements the build-config reader (spec component
// C5): locating, parsing, and validating the repository's boxci.json/
// boxci.yml/boxci.yaml file, and matching a build's ref to a declared
// pipeline.
package buildconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/boxci-run/agent/internal/orderedmap"
	"gopkg.in/yaml.v3"
)

var candidateFiles = []string{"boxci.json", "boxci.yml", "boxci.yaml"}

// Config is a validated build configuration: task name -> shell command,
// and pipeline name -> ordered task-name list, in declaration order.
type Config struct {
	Tasks     *orderedmap.Map[string]
	Pipelines *orderedmap.Map[[]string]
}

// wireConfig mirrors the on-disk shape for both JSON and YAML decoding.
type wireConfig struct {
	Tasks     orderedmap.Map[string]   `json:"tasks" yaml:"tasks"`
	Pipelines orderedmap.Map[[]string] `json:"pipelines" yaml:"pipelines"`
}

// Locate finds the single build-config file at the root of repoDir.
// Zero or more-than-one candidate present is a configuration error.
func Locate(repoDir string) (string, error) {
	var found []string
	for _, name := range candidateFiles {
		path := filepath.Join(repoDir, name)
		if _, err := os.Stat(path); err == nil {
			found = append(found, name)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("buildconfig: no boxci.json/boxci.yml/boxci.yaml found in %s", repoDir)
	case 1:
		return filepath.Join(repoDir, found[0]), nil
	default:
		return "", fmt.Errorf("buildconfig: multiple config files present (%s); exactly one is required", strings.Join(found, ", "))
	}
}

// Load locates, parses, and validates the build config at repoDir.
func Load(repoDir string) (*Config, []string, error) {
	path, err := Locate(repoDir)
	if err != nil {
		return nil, nil, err
	}
	return Parse(path)
}

// Parse reads and validates a single config file at path.
func Parse(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("buildconfig: read %s: %w", path, err)
	}

	var wire wireConfig
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &wire)
	} else {
		err = yaml.Unmarshal(data, &wire)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("buildconfig: parse %s: %w", path, err)
	}

	cfg := &Config{Tasks: &wire.Tasks, Pipelines: &wire.Pipelines}
	if errs := validate(cfg); len(errs) > 0 {
		return nil, errs, fmt.Errorf("buildconfig: %s failed validation", path)
	}
	return cfg, nil, nil
}

// validate implements spec.md §4.5's rules, collecting every violation.
func validate(cfg *Config) []string {
	var errs []string

	if cfg.Tasks.Len() == 0 {
		errs = append(errs, "tasks must be a non-empty mapping of task name to shell command")
	}
	if cfg.Pipelines.Len() == 0 {
		errs = append(errs, "pipelines must be a non-empty mapping of pipeline name to a list of task names")
	}

	cfg.Pipelines.Range(func(name string, taskNames []string) error {
		if len(taskNames) == 0 {
			errs = append(errs, fmt.Sprintf("pipeline %q has no tasks", name))
		}
		for _, tn := range taskNames {
			if _, ok := cfg.Tasks.Get(tn); !ok {
				errs = append(errs, fmt.Sprintf("pipeline %q references unknown task %q", name, tn))
			}
		}
		return nil
	})

	return errs
}
