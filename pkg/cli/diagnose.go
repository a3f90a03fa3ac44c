package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sellpoint/sellpoint-client/pkg/config"
)

// NewDiagnoseCommand creates the diagnose command: collect the health
// snapshot and print it, optionally delivering it to the central service.
func NewDiagnoseCommand(opt *config.Options) *cobra.Command {
	var send bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Collect and print the diagnostic snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opt)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			diag := a.engine.Diagnostics(ctx)

			out, err := json.MarshalIndent(diag, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if send {
				if err := a.api.SendDiagnostic(ctx, diag); err != nil {
					return fmt.Errorf("deliver diagnostic: %w", err)
				}
				fmt.Println("Diagnostic delivered.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&send, "send", false, "deliver the snapshot to the central service")

	return cmd
}
