package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/runchain/runchain/internal/app"
	"github.com/runchain/runchain/internal/infra/backend"
	"github.com/runchain/runchain/internal/infra/config"
	"github.com/runchain/runchain/internal/infra/gitops"
	"github.com/runchain/runchain/internal/infra/statestore"
	"github.com/runchain/runchain/internal/usecase/dispatch"
)

// runFlags collects the flags shared between `run` and `status`.
type runFlags struct {
	configPath string
	commands   []string
	repoJSON   string

	runHash  string
	stateDir string
	workDir  string

	dryRun        bool
	stopOnFailure bool
	noRetryFailed bool

	backendURL string
	jobPrefix  string
	quiet      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringArrayVar(&f.commands, "command", nil, "Command to dispatch (repeatable, ordered)")
	cmd.Flags().StringVar(&f.repoJSON, "repo", "", `Repo spec as JSON: '{"url":"...","branch":"main","install":"..."}'`)
	cmd.Flags().StringVar(&f.runHash, "run-hash", "", "Explicit run identifier override")
	cmd.Flags().StringVar(&f.stateDir, "state-dir", "", "Root directory for persisted run state")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "Suppress debug logging")
}

// buildConfig merges the config file (if any) with flag overrides,
// flags winning, then applies defaults.
func (f *runFlags) buildConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if len(f.commands) > 0 {
		cfg.Commands = f.commands
	}
	if f.repoJSON != "" {
		var repo config.Repo
		if err := json.Unmarshal([]byte(f.repoJSON), &repo); err != nil {
			return nil, fmt.Errorf("config: parse --repo: %w", err)
		}
		cfg.Repo = &repo
	}
	if f.runHash != "" {
		cfg.RunHash = f.runHash
	}
	if f.stateDir != "" {
		cfg.StateDir = f.stateDir
	}
	if f.workDir != "" {
		cfg.WorkDir = f.workDir
	}
	if f.dryRun {
		cfg.DryRun = true
	}
	if f.stopOnFailure {
		cfg.StopOnFailure = true
	}
	if f.noRetryFailed {
		no := false
		cfg.RetryFailed = &no
	}
	if f.backendURL != "" {
		cfg.Backend.BaseURL = f.backendURL
	}
	if f.jobPrefix != "" {
		cfg.Backend.JobPrefix = f.jobPrefix
	}

	cfg.ApplyDefaults(app.ResolvePaths())
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch the configured command chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.buildConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDispatch(cmd, cfg, flags.quiet)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.workDir, "work-dir", "", "Directory for bootstrapped clones")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Simulate dispatch decisions without side effects")
	cmd.Flags().BoolVar(&flags.stopOnFailure, "stop-on-failure", false, "Halt remaining dispatch on the first failure")
	cmd.Flags().BoolVar(&flags.noRetryFailed, "no-retry-failed", false, "Do not reset previously failed commands to pending")
	cmd.Flags().StringVar(&flags.backendURL, "backend-url", "", "Batch-compute API base URL")
	cmd.Flags().StringVar(&flags.jobPrefix, "job-prefix", "", "Backend job name prefix")
	return cmd
}

func runDispatch(cmd *cobra.Command, cfg *config.Config, quiet bool) error {
	log := app.NewLogger(cmd.ErrOrStderr(), quiet)
	fsys := afero.NewOsFs()

	var be backend.Backend
	if cfg.DryRun {
		be = backend.NewRecording()
	} else {
		client, err := backend.NewClient(backend.Config{
			BaseURL:      cfg.Backend.BaseURL,
			Token:        cfg.Backend.Token,
			PollInterval: cfg.PollInterval(),
		})
		if err != nil {
			return err
		}
		be = client
	}

	engine := &dispatch.Engine{
		Store:     statestore.New(fsys, cfg.StateDir),
		Backend:   be,
		Bootstrap: gitops.New(cfg.WorkDir, log),
		Log:       log,
	}

	report, err := engine.Run(cmd.Context(), cfg.RunSpec(), dispatch.Options{
		DryRun:        cfg.DryRun,
		StopOnFailure: cfg.StopOnFailure,
		RetryFailed:   cfg.RetryFailedEnabled(),
		JobPrefix:     cfg.Backend.JobPrefix,
	})
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)

	if report.Failed() > 0 {
		return fmt.Errorf("%d command(s) failed", report.Failed())
	}
	return nil
}
