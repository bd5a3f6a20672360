package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/shrtyk/logstream-core/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take and transfer snapshots",
	}
	cmd.AddCommand(newSnapshotTakeCommand(rootOpts))
	cmd.AddCommand(newSnapshotSendCommand(rootOpts))
	return cmd
}

type snapshotTakeOptions struct {
	*RootOptions
	Position int64
	Source   string
}

func newSnapshotTakeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &snapshotTakeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "take",
		Short: "Snapshot the files of --source as the state processed up to --position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBroker(cmd.Context(), func(b api.Broker) error {
				info, err := b.TakeSnapshot(cmd.Context(), opts.Position, func(dir string) error {
					return copyFlatDir(opts.Source, dir)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s checksum %08x compaction bound %d\n",
					info.ID, info.Checksum, info.CompactionBound)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&opts.Position, "position", 0, "processed position covered by the snapshot")
	cmd.Flags().StringVar(&opts.Source, "source", "", "directory holding the state files")
	_ = cmd.MarkFlagRequired("position")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

// copyFlatDir copies the regular files of src into dst.
func copyFlatDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), data, fs.FileMode(0644)); err != nil {
			return err
		}
	}
	return nil
}

type snapshotSendOptions struct {
	*RootOptions
	Members  []string
	Parallel int
}

func newSnapshotSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &snapshotSendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the latest snapshot to members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withBroker(cmd.Context(), func(b api.Broker) error {
				var mu sync.Mutex
				g, ctx := errgroup.WithContext(cmd.Context())
				g.SetLimit(max(opts.Parallel, 1))
				for _, m := range opts.Members {
					g.Go(func() error {
						if err := b.SendLatestSnapshot(ctx, api.MemberID(m)); err != nil {
							return fmt.Errorf("member %s: %w", m, err)
						}
						mu.Lock()
						defer mu.Unlock()
						fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", m)
						return nil
					})
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.Members, "member", nil, "member to send to, may be repeated")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 2, "number of members served at once")
	_ = cmd.MarkFlagRequired("member")

	return cmd
}
