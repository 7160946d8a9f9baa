package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/screenmon-io/screenmon/cmd/waldo/app/options"
	"github.com/screenmon-io/screenmon/pkg/log"
)

// version is overridden at build time via -ldflags -X.
var version = "dev"

// NewWaldoCommand builds the waldo command with its full flag surface.
func NewWaldoCommand(ctx context.Context) *cobra.Command {
	opts := options.NewMonitorOptions()
	cmd := &cobra.Command{
		Use:          "waldo",
		Long:         "Waldo is a daemon that scans a synergy server log for screen switch events and publishes each one to an MQTT broker.",
		Args:         cobra.NoArgs,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(cmd); err != nil {
				return err
			}

			log.Init(opts.Log)

			if opts.ShowConfig {
				opts.PrintSummary(cmd.OutOrStdout())
				return nil
			}

			if err := opts.Validate(); err != nil {
				return err
			}

			return run(ctx, opts)
		},
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, opts *options.MonitorOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	monitor, err := cfg.NewMonitor()
	if err != nil {
		log.Error(err, "failed to build monitor")
		return err
	}

	return monitor.Run(ctx)
}
