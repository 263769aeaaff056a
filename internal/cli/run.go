package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chime/internal/app"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(f *rootFlags) *cobra.Command {
	var (
		serveMCP bool
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reminder daemon",
		Long: "Runs the scheduler until interrupted. With --mcp the control tools are served " +
			"over stdin/stdout and the daemon exits when stdin closes; logs always go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, f.config(),
				app.WithDryRun(dryRun),
				app.WithOutput(os.Stderr),
				app.WithVersion(f.version),
			)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			controlDone := make(chan error, 1)
			if serveMCP {
				go func() { controlDone <- a.ServeControl(ctx, os.Stdin, os.Stdout) }()
			}

			reason := app.StopSignal
			var runErr error
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
				runErr = a.Err()
			case runErr = <-controlDone:
				reason = app.StopControlEOF
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&serveMCP, "mcp", false, "Serve the MCP control tools on stdio")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Keep reminders in memory only")
	return cmd
}
