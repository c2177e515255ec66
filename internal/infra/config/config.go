// Package config loads the declarative run configuration from YAML and
// merges it with CLI flag overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/runchain/runchain/internal/app"
	"github.com/runchain/runchain/internal/domain/run"
)

// ValidationError reports malformed or contradictory input.
// Nothing is dispatched when it is returned.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return "config: " + e.Msg
}

// Repo mirrors run.RepoSpec for YAML decoding.
type Repo struct {
	URL     string `yaml:"url"`
	Branch  string `yaml:"branch"`
	Commit  string `yaml:"commit"`
	Install string `yaml:"install"`
	Path    string `yaml:"path"`
}

// Backend holds the batch-compute API settings.
type Backend struct {
	BaseURL         string `yaml:"base_url"`
	Token           string `yaml:"token"`
	JobPrefix       string `yaml:"job_prefix"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// Config is the full declarative description of a run.
type Config struct {
	Commands []string `yaml:"commands"`
	Repo     *Repo    `yaml:"repo"`

	RunHash  string `yaml:"run_hash"`
	StateDir string `yaml:"state_dir"`
	WorkDir  string `yaml:"work_dir"`

	DryRun        bool  `yaml:"dry_run"`
	StopOnFailure bool  `yaml:"stop_on_failure"`
	RetryFailed   *bool `yaml:"retry_failed"` // nil means the default (true)

	Backend Backend `yaml:"backend"`
}

// Load reads and parses a YAML config file with strict field checking.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Fail on unknown fields
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset locations from the resolved paths and sets
// built-in defaults for backend naming and polling.
func (c *Config) ApplyDefaults(paths app.Paths) {
	if c.StateDir == "" {
		c.StateDir = paths.StateDir
	}
	if c.WorkDir == "" {
		c.WorkDir = paths.ReposDir
	}
	if c.Backend.JobPrefix == "" {
		c.Backend.JobPrefix = "runchain"
	}
	if c.Backend.PollIntervalSec == 0 {
		c.Backend.PollIntervalSec = 15
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = os.Getenv("RUNCHAIN_BASE_URL")
	}
	if c.Backend.Token == "" {
		c.Backend.Token = os.Getenv("RUNCHAIN_TOKEN")
	}
}

// Validate checks the configuration before anything is dispatched.
func (c *Config) Validate() error {
	if len(c.Commands) == 0 && c.Repo == nil {
		return &ValidationError{Msg: "nothing to do: no commands and no repo"}
	}
	if c.Repo != nil && c.Repo.URL == "" {
		return &ValidationError{Field: "repo.url", Msg: "is required when repo is set"}
	}
	if !c.DryRun && c.Backend.BaseURL == "" {
		return &ValidationError{Field: "backend.base_url", Msg: "is required unless dry_run is set"}
	}
	return nil
}

// RunSpec builds the immutable run spec from the configuration.
func (c *Config) RunSpec() run.Spec {
	spec := run.Spec{
		Commands:     c.Commands,
		HashOverride: c.RunHash,
	}
	if c.Repo != nil {
		spec.Repo = &run.RepoSpec{
			URL:     c.Repo.URL,
			Branch:  c.Repo.Branch,
			Commit:  c.Repo.Commit,
			Install: c.Repo.Install,
			Path:    c.Repo.Path,
		}
	}
	return spec
}

// RetryFailedEnabled reports whether Failed commands reset to Pending on
// re-invocation. Defaults to true (retry-by-rerun).
func (c *Config) RetryFailedEnabled() bool {
	return c.RetryFailed == nil || *c.RetryFailed
}

// PollInterval returns the backend poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Backend.PollIntervalSec) * time.Second
}
