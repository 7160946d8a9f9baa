package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screenmon-io/screenmon/cmd/found-him/app/options"
	"github.com/screenmon-io/screenmon/pkg/log"
)

// version is overridden at build time via -ldflags -X.
var version = "dev"

// NewFoundHimCommand builds the found-him command with its full flag
// surface. The optional positional argument is the desktop name to watch
// for.
func NewFoundHimCommand(ctx context.Context) *cobra.Command {
	opts := options.NewWatcherOptions()
	cmd := &cobra.Command{
		Use:          "found-him [value]",
		Long:         "Found-him is a daemon that subscribes to desktop switch events and rings the terminal bell when the active desktop becomes the target.",
		Args:         cobra.MaximumNArgs(1),
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(cmd, args); err != nil {
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

			return run(ctx, cmd, opts)
		},
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *options.WatcherOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	watcher, err := cfg.NewWatcher()
	if err != nil {
		log.Error(err, "failed to build watcher")
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Listening for messages on topic '%s'\n", opts.MqttOptions.Topic)
	fmt.Fprintf(out, "Will ring bell when '%s' matches '%s'\n", opts.Key, opts.Target)

	return watcher.Run(ctx)
}
