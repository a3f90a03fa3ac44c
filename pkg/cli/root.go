// Package cli defines the sellpoint command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/sellpoint/sellpoint-client/pkg/config"
)

// NewRootCommand creates the root command. Configuration comes from the
// environment; flags override individual fields on top of that.
func NewRootCommand() *cobra.Command {
	opt := config.NewConfig()

	cmd := &cobra.Command{
		Use:   "sellpoint",
		Short: "SellPoint offline-first point-of-sale client",
		Long: `SellPoint keeps a complete local copy of the store's data and keeps
working through network outages. Local changes queue in a durable outbox
and flow to the central service whenever it is reachable; remote changes
and management commands flow back on a polling loop and an optional
real-time channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opt.ServerURL, "server", opt.ServerURL, "central service base URL")
	cmd.PersistentFlags().StringVar(&opt.DataPath, "data", opt.DataPath, "local data directory")
	cmd.PersistentFlags().StringVar(&opt.BusinessID, "business", opt.BusinessID, "tenant identifier")
	cmd.PersistentFlags().BoolVar(&opt.SyncWithServer, "sync", opt.SyncWithServer, "synchronize with the central service")

	cmd.AddCommand(NewRunCommand(opt))
	cmd.AddCommand(NewStatusCommand(opt))
	cmd.AddCommand(NewDiagnoseCommand(opt))

	return cmd
}
