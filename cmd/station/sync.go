package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay counts queued while offline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newStation(f)
			if err != nil {
				return err
			}
			defer s.close()

			pending, err := s.queue.Pending()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "Nothing to sync")
				return nil
			}
			fmt.Fprintf(out, "%d counts queued\n", len(pending))

			if !s.monitor.Check(cmd.Context()) {
				return errors.New("server unreachable, counts stay queued")
			}
			res, err := s.queue.Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "replayed %d, rejected %d, failed %d, remaining %d\n",
				res.Replayed, res.Rejected, res.Failed, res.Remaining)
			if !res.Clean() {
				return fmt.Errorf("%d counts still pending", res.Remaining)
			}
			return nil
		},
	}
}
