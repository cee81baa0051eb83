// Package loader reads YAML suite files that define command-based test
// cases and registers them with the engine.
package loader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gopkg.in/yaml.v3"

	"crucible/internal/engine"
	"crucible/pkg/logging"
)

// Spec defines one command-based test case in a suite file.
type Spec struct {
	// ID is the unique identifier for the test
	ID string `yaml:"id"`
	// Name is the human-readable display name
	Name string `yaml:"name,omitempty"`
	// Description provides human-readable test description
	Description string `yaml:"description,omitempty"`
	// Severity classification (CRITICAL/HIGH/MEDIUM/LOW)
	Severity string `yaml:"severity,omitempty"`
	// Command is the argv to execute; exit 0 passes
	Command []string `yaml:"command"`
	// Env variables added to the command's environment
	Env map[string]string `yaml:"env,omitempty"`
	// Timeout for this specific test, e.g. "30s"
	Timeout string `yaml:"timeout,omitempty"`
	// Retries after a non-timeout failure
	Retries int `yaml:"retries,omitempty"`
	// DependsOn lists test IDs that must execute first
	DependsOn []string `yaml:"depends_on,omitempty"`
	// Tags for filtering
	Tags []string `yaml:"tags,omitempty"`
	// Skip indicates whether this test should be skipped
	Skip bool `yaml:"skip,omitempty"`
}

// Suite is the top-level shape of a suite file.
type Suite struct {
	// Name of the suite
	Name string `yaml:"name"`
	// Tests defined by the suite
	Tests []Spec `yaml:"tests"`
}

// Load reads and validates a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file %s: %w", path, err)
	}
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite file %s: %w", path, err)
	}
	for i, spec := range suite.Tests {
		if spec.ID == "" {
			return nil, fmt.Errorf("suite file %s: test %d has no id", path, i)
		}
		if len(spec.Command) == 0 && !spec.Skip {
			return nil, fmt.Errorf("suite file %s: test %q has no command", path, spec.ID)
		}
		if spec.Timeout != "" {
			if _, err := time.ParseDuration(spec.Timeout); err != nil {
				return nil, fmt.Errorf("suite file %s: test %q: invalid timeout: %w", path, spec.ID, err)
			}
		}
	}
	logging.Info("Loader", "Loaded suite %q with %d tests from %s", suite.Name, len(suite.Tests), path)
	return &suite, nil
}

// RegisterAll converts every spec into a test case and registers it.
func RegisterAll(registry *engine.Registry, suite *Suite) error {
	for _, spec := range suite.Tests {
		tc, err := toTestCase(spec)
		if err != nil {
			return err
		}
		if _, err := registry.Register(tc); err != nil {
			return err
		}
	}
	return nil
}

func toTestCase(spec Spec) (*engine.TestCase, error) {
	var timeout time.Duration
	if spec.Timeout != "" {
		parsed, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("test %q: invalid timeout: %w", spec.ID, err)
		}
		timeout = parsed
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	return &engine.TestCase{
		ID:          spec.ID,
		Name:        name,
		Description: spec.Description,
		Severity:    severityOf(spec.Severity),
		Body:        commandBody(spec),
		Timeout:     timeout,
		Retries:     spec.Retries,
		DependsOn:   spec.DependsOn,
		Tags:        spec.Tags,
		Skip:        spec.Skip,
	}, nil
}

func severityOf(s string) engine.Severity {
	switch engine.Severity(s) {
	case engine.SeverityCritical, engine.SeverityHigh, engine.SeverityMedium, engine.SeverityLow:
		return engine.Severity(s)
	default:
		return engine.SeverityMedium
	}
}

// commandBody runs the declared argv under the engine's timeout. A non-zero
// exit is an assertion failure; failing to start at all is an error.
func commandBody(spec Spec) engine.BodyFunc {
	return func(ctx context.Context, run *engine.Run) error {
		cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
		cmd.Stdout = run
		cmd.Stderr = run
		cmd.Env = os.Environ()
		for key, value := range spec.Env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}

		err := cmd.Run()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return engine.Failf("command %q exited with code %d", spec.Command[0], exitErr.ExitCode())
		}
		return fmt.Errorf("command %q failed to start: %w", spec.Command[0], err)
	}
}
