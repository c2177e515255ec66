// Package cli wires the cobra command tree for the runchain binary.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runchain",
		Short: "Dispatch an ordered command chain to a batch-compute backend, exactly once",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Backend credentials may live in a dotenv file; absence is fine.
			_ = godotenv.Load()
			return nil
		},
		RunE:         func(c *cobra.Command, _ []string) error { return c.Help() },
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
