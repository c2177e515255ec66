package cli

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/runchain/runchain/internal/domain/run"
	"github.com/runchain/runchain/internal/infra/statestore"
)

func newStatusCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted state of a run without dispatching",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.buildConfig()
			if err != nil {
				return err
			}

			spec := cfg.RunSpec()
			runID := run.Identify(spec)

			store := statestore.New(afero.NewOsFs(), cfg.StateDir)
			st, err := store.Load(runID, spec.Commands)
			if err != nil {
				return err
			}

			printState(cmd.OutOrStdout(), st)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
