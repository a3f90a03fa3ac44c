package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sellpoint/sellpoint-client/pkg/client"
	"github.com/sellpoint/sellpoint-client/pkg/config"
)

// NewRunCommand creates the run command: the full client with the
// interactive console, or a headless terminal with --headless.
func NewRunCommand(opt *config.Options) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the client",
		Long: `Start the sync engine and, unless --headless is given, the operator
console. The engine pushes queued operations, pulls remote changes, and
executes management commands until the process stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(opt, headless)
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run without the interactive console")

	return cmd
}

func runClient(opt *config.Options, headless bool) error {
	a, err := newApp(opt)
	if err != nil {
		return err
	}
	defer a.close()

	if !headless {
		a.executor.SetReporter(reportCommand)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.engine.Init(ctx); err != nil {
		return err
	}

	if headless {
		<-ctx.Done()
	} else {
		console, err := client.NewConsole(a.engine, a.store, opt)
		if err != nil {
			return err
		}
		defer console.Close()
		a.setConfirm(console.Confirm)
		if err := console.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.log.Error("shutdown incomplete", "err", err)
	}
	return nil
}
