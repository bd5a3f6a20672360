package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/shrtyk/logstream-core/broker"
	"github.com/spf13/cobra"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker until interrupted",
		Long: `Run the partition broker: serve log replication and snapshot
transfer to other members and expose monitoring over HTTP.

Example:
  logbroker serve --config broker.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rootOpts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	b, err := broker.NewBrokerBuilder().WithConfig(cfg).Build()
	if err != nil {
		return err
	}

	if err := b.Start(ctx); err != nil {
		return errors.Join(err, b.Stop(context.Background()))
	}
	<-ctx.Done()
	return b.Stop(context.Background())
}
