package cli

import (
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"github.com/spf13/cobra"
)

type CatchUpOptions struct {
	*RootOptions
	From int64
	To   int64
}

func NewCatchUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatchUpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catchup",
		Short: "Replicate missing log entries from other members",
		Long: `Replicate the entries after --from up to --to from the configured
members. Another member is tried when one fails. With an empty local
log, --from 0 replicates from the first entry.

Example:
  logbroker catchup --config broker.yaml --from 120 --to 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.To <= opts.From {
				return fmt.Errorf("--to %d must be greater than --from %d", opts.To, opts.From)
			}
			return opts.withBroker(cmd.Context(), func(b api.Broker) error {
				pos, err := b.CatchUp(cmd.Context(), opts.From, opts.To)
				fmt.Fprintf(cmd.OutOrStdout(), "replicated up to %d\n", pos)
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&opts.From, "from", 0, "last position present locally, 0 when the local log is empty")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "position to replicate up to")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
