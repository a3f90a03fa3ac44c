package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sellpoint/sellpoint-client/pkg/config"
)

// NewStatusCommand creates the status command: a one-shot summary of the
// local state without starting the engine.
func NewStatusCommand(opt *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print queue and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			pending, dead, err := a.keeper.QueueCounts(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("client:    %s\n", opt.ClientID)
			fmt.Printf("data:      %s\n", opt.DataPath)
			fmt.Printf("pending:   %d operation(s)\n", pending)
			fmt.Printf("dead:      %d operation(s)\n", dead)

			for _, table := range a.store.Registry().Tables() {
				n, err := a.keeper.CountRecords(ctx, table)
				if err != nil {
					return err
				}
				fmt.Printf("%-10s %d record(s)\n", table+":", n)
			}
			return nil
		},
	}
}
