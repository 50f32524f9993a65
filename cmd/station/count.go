package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xelth-com/tapcount/internal/counting"
	"github.com/xelth-com/tapcount/internal/reconcile"
)

const countHelp = `setup:   zones | zone <id> | start [zone] | open <session>
browse:  products | search <text> | p <product> | scan <code> | quick on|off | finish | cancel
         (in scan mode a bare line is treated as a barcode)
input:   pct <0-100> | weight <grams> | backup <n> | cooler <n> | save | back
review:  report | submit | back | cancel
viewing: new | open <session>
any:     status | help | quit`

var errQuit = errors.New("quit")

func newCountCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Run an interactive counting session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newStation(f)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			s.monitor.Start(ctx)

			ctl := s.controller(out)
			defer ctl.Close()
			if err := ctl.LoadCatalog(ctx); err != nil {
				return err
			}

			sh := &shell{ctl: ctl, out: out}
			fmt.Fprintln(out, "Type 'help' for commands.")
			sh.zones()

			in := bufio.NewScanner(cmd.InOrStdin())
			for {
				sh.prompt(s.queue.IsOnline())
				if !in.Scan() {
					return in.Err()
				}
				if err := sh.exec(ctx, in.Text()); errors.Is(err, errQuit) {
					return nil
				} else if err != nil {
					fmt.Fprintln(out, "!", err)
				}
			}
		},
	}
}

// shell maps operator lines onto controller actions
type shell struct {
	ctl *counting.Controller
	out io.Writer
}

func (sh *shell) prompt(online bool) {
	state := "online"
	if !online {
		state = "OFFLINE"
	}
	m := sh.ctl.Mode()
	label := string(m.Kind())
	if in, ok := m.(counting.Input); ok {
		label += ":" + in.Draft.Product().Name
	}
	fmt.Fprintf(sh.out, "%s [%s]> ", label, state)
}

func (sh *shell) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(sh.out, countHelp)
		return nil
	case "status":
		sh.status()
		return nil

	// setup
	case "zones":
		sh.zones()
		return nil
	case "zone":
		id, err := intArg(args, "zone")
		if err != nil {
			return err
		}
		return sh.ctl.SelectZone(int64(id))
	case "start":
		var zone int64
		if len(args) > 0 {
			id, err := intArg(args, "zone")
			if err != nil {
				return err
			}
			zone = int64(id)
		}
		s, err := sh.ctl.StartSession(ctx, zone)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Counting session %d\n", s.ID)
		return nil
	case "open":
		id, err := intArg(args, "session")
		if err != nil {
			return err
		}
		if err := sh.ctl.OpenCompleted(ctx, int64(id)); err != nil {
			return err
		}
		printCompleted(sh.out, sh.ctl.Mode())
		return nil
	case "new":
		return sh.ctl.StartNewForZone()

	// browse
	case "products", "list":
		sh.products()
		return nil
	case "search":
		for _, p := range sh.ctl.Search(strings.Join(args, " ")) {
			fmt.Fprintf(sh.out, "  %4d  %s\n", p.ID, p.Name)
		}
		return nil
	case "p":
		id, err := intArg(args, "product")
		if err != nil {
			return err
		}
		if err := sh.ctl.SelectProduct(ctx, int64(id)); err != nil {
			return err
		}
		sh.draft()
		return nil
	case "scan":
		if len(args) == 0 {
			return errors.New("scan needs a code")
		}
		return sh.scan(ctx, args[0])
	case "quick":
		sh.ctl.SetQuickScan(len(args) > 0 && args[0] == "on")
		return nil
	case "finish":
		rep, err := sh.ctl.Finish()
		if err != nil {
			return err
		}
		sh.report(rep)
		return nil
	case "report":
		rep, err := sh.ctl.Report()
		if err != nil {
			return err
		}
		sh.report(rep)
		return nil
	case "submit":
		s, err := sh.ctl.Submit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Session %d %s\n", s.ID, s.Status)
		return nil
	case "cancel":
		return sh.ctl.Cancel(ctx)

	// input
	case "pct":
		n, err := intArg(args, "percent")
		if err != nil {
			return err
		}
		return sh.edit(sh.ctl.SetPartialPercent(n))
	case "weight":
		if len(args) == 0 {
			return errors.New("weight needs grams")
		}
		g, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid weight %q", args[0])
		}
		return sh.edit(sh.ctl.ApplyScaleWeight(g))
	case "backup":
		n, err := intArg(args, "count")
		if err != nil {
			return err
		}
		return sh.edit(sh.ctl.SetBackup(n))
	case "cooler":
		n, err := intArg(args, "count")
		if err != nil {
			return err
		}
		return sh.edit(sh.ctl.SetCooler(n))
	case "save":
		data, err := sh.ctl.Save(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "Saved %s: %.2f\n", data.ProductName, data.TotalUnits)
		return nil
	case "back":
		return sh.ctl.Back()
	}

	if sh.ctl.Mode().Kind() == counting.ModeScan {
		return sh.scan(ctx, fields[0])
	}
	return fmt.Errorf("unknown command %q, try 'help'", cmd)
}

func (sh *shell) scan(ctx context.Context, code string) error {
	handled, err := sh.ctl.SelectByCode(ctx, code)
	if err != nil {
		return err
	}
	if handled {
		sh.draft()
	}
	return nil
}

func (sh *shell) edit(err error) error {
	if err != nil {
		return err
	}
	sh.draft()
	return nil
}

func (sh *shell) status() {
	if s := sh.ctl.Session(); s != nil {
		fmt.Fprintf(sh.out, "session %d zone %d, %d products counted\n", s.ID, s.ZoneID, len(sh.ctl.Counts()))
	} else {
		fmt.Fprintln(sh.out, "no session")
	}
	if sh.ctl.Mode().Kind() == counting.ModeInput {
		sh.draft()
	}
}

func (sh *shell) zones() {
	for _, z := range sh.ctl.Zones() {
		fmt.Fprintf(sh.out, "  %4d  %s\n", z.ID, z.Name)
	}
}

func (sh *shell) products() {
	counts := sh.ctl.Counts()
	for _, p := range sh.ctl.Products() {
		mark := " "
		if _, ok := counts[p.ID]; ok {
			mark = "*"
		}
		fmt.Fprintf(sh.out, " %s%4d  %s\n", mark, p.ID, p.Name)
	}
}

func (sh *shell) draft() {
	in, ok := sh.ctl.Mode().(counting.Input)
	if !ok {
		return
	}
	d := in.Draft
	p := d.Product()
	if p.IsKeg() {
		if d.KegSummary() == nil {
			fmt.Fprintf(sh.out, "%s: loading keg data...\n", p.Name)
			return
		}
		fmt.Fprintf(sh.out, "%s: %d tapped, cooler %d, total %.2f kegs\n",
			p.Name, len(d.KegSummary().TappedKegs), d.Cooler(), d.Total())
		return
	}
	source := "estimate"
	if !d.IsManualEstimate() {
		source = "scale"
	}
	fmt.Fprintf(sh.out, "%s: open %d%% (%s), backup %d, total %.2f\n",
		p.Name, d.PartialPercent(), source, d.Backup(), d.Total())
}

func (sh *shell) report(rep reconcile.Report) {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tEXPECTED\tCOUNTED\tVARIANCE\t")
	for _, l := range rep.Lines {
		flag := ""
		if l.Large {
			flag = "!"
		}
		v := l.Variance.StringFixed(2)
		if l.Variance.IsPositive() {
			v = "+" + v
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%s\t%s\n", l.ProductName, l.Expected, l.Counted, v, flag)
	}
	tw.Flush()
	fmt.Fprintf(sh.out, "%d products, %d large variances\n", len(rep.Lines), rep.LargeCount)
}

func intArg(args []string, name string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("missing %s", name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, args[0])
	}
	return n, nil
}
