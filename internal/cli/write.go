package cli

import (
	"fmt"

	"github.com/shrtyk/logstream-core/api"
	"github.com/spf13/cobra"
)

type WriteOptions struct {
	*RootOptions
	Intent  string
	Payload string
}

func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Append one command to the local partition log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBroker(cmd.Context(), func(b api.Broker) error {
				pos, err := b.Write(cmd.Context(), api.Intent(opts.Intent), []byte(opts.Payload))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "position %d\n", pos)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Intent, "intent", string(api.IntentMessagePublish), "intent of the command")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "command payload")

	return cmd
}
