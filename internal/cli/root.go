// Package cli implements the logbroker command line.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"github.com/shrtyk/logstream-core/broker"
	"github.com/shrtyk/logstream-core/internal/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "logbroker",
		Short:         "Partition broker of the replicated log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewCatchUpCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*api.Config, error) {
	if o.ConfigPath == "" {
		return broker.DefaultConfig(), nil
	}
	return config.Load(o.ConfigPath, broker.DefaultConfig())
}

// withBroker starts a broker from the configured file, runs fn and stops it.
func (o *RootOptions) withBroker(ctx context.Context, fn func(b api.Broker) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	b, err := broker.NewBrokerBuilder().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := b.Stop(context.Background()); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to stop broker: %w", stopErr))
		}
	}()

	if err := b.Start(ctx); err != nil {
		return err
	}
	return fn(b)
}
