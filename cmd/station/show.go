package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xelth-com/tapcount/internal/counting"
	"github.com/xelth-com/tapcount/internal/services/report"
)

func newShowCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a completed count read-only",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid session id %q", args[0])
			}
			s, err := newStation(f)
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			if !s.monitor.Check(cmd.Context()) {
				return errors.New("server unreachable")
			}
			ctl := s.controller(out)
			defer ctl.Close()
			if err := ctl.OpenCompleted(cmd.Context(), id); err != nil {
				return err
			}
			printCompleted(out, ctl.Mode())
			fmt.Fprintln(out, "link:", report.SessionLink(s.cfg.APIURL, id))
			return nil
		},
	}
}

func printCompleted(out io.Writer, m counting.Mode) {
	v, ok := m.(counting.ViewCompleted)
	if !ok {
		return
	}
	fmt.Fprintf(out, "Session %d  zone %d  %s  started %s\n",
		v.Session.ID, v.Session.ZoneID, v.Session.Status, v.Session.StartedAt.Local().Format("2006-01-02 15:04"))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tTYPE\tQTY\tTOTAL\tEXPECTED")
	for _, c := range v.Counts {
		name := fmt.Sprintf("#%d", c.ProductID)
		if c.Product != nil {
			name = c.Product.Name
		}
		kind := "bottle"
		if c.IsKeg {
			kind = "keg"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\n", name, kind, counting.QuantityOf(c).Units(), c.TotalUnits, c.ExpectedUnits)
	}
	tw.Flush()
}
