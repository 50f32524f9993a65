// Command station runs a counting station against the tapcount API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xelth-com/tapcount/internal/buildinfo"
	"github.com/xelth-com/tapcount/internal/client"
	"github.com/xelth-com/tapcount/internal/config"
	"github.com/xelth-com/tapcount/internal/counting"
	"github.com/xelth-com/tapcount/internal/logger"
	"github.com/xelth-com/tapcount/internal/metrics"
	"github.com/xelth-com/tapcount/internal/offline"
	"go.uber.org/zap"
)

type flags struct {
	apiURL    string
	cacheDir  string
	quickScan bool
	verbose   bool
}

// station bundles everything a subcommand needs
type station struct {
	cfg     config.StationConfig
	flags   *flags
	log     *zap.Logger
	client  *client.Client
	queue   *offline.Manager
	monitor *offline.Monitor
}

func newStation(f *flags) (*station, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	sc := cfg.Station
	if f.apiURL != "" {
		sc.APIURL = f.apiURL
	}
	if f.cacheDir != "" {
		sc.CacheDir = f.cacheDir
	}
	if f.quickScan {
		sc.QuickScan = true
	}

	env := cfg.NodeEnv
	if !f.verbose {
		// Keep the terminal for the operator; only warnings and errors go to the log
		env = "production"
	}
	log, err := logger.New(env)
	if err != nil {
		return nil, err
	}

	store, err := offline.NewFileStore(sc.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache dir: %w", err)
	}

	m := metrics.New("tapcount_station")
	api := client.New(sc.APIURL, sc.RequestTimeout, log, client.WithMetrics(m))
	queue := offline.NewManager(store, api, log,
		offline.WithMaxAttempts(sc.ReplayAttempts),
		offline.WithMetrics(m),
	)
	return &station{
		cfg:     sc,
		flags:   f,
		log:     log,
		client:  api,
		queue:   queue,
		monitor: offline.NewMonitor(sc.APIURL, sc.HealthInterval, sc.RequestTimeout, queue, log),
	}, nil
}

// controller builds a counting controller that prints toasts to out
func (s *station) controller(out io.Writer) *counting.Controller {
	notify := counting.NotifierFunc(func(level counting.Level, message string) {
		fmt.Fprintf(out, "[%s] %s\n", level, message)
	})
	ctl := counting.New(s.client, s.queue, notify, s.log, counting.Options{
		QuickScan:       s.cfg.QuickScan,
		LiveSensors:     s.cfg.LiveSensors,
		KegPollInterval: s.cfg.KegPollInterval,
		ScanDedupWindow: s.cfg.ScanDedupWindow,
	})
	// an explicit flag beats the preference saved on this station
	if s.flags.quickScan {
		ctl.SetQuickScan(true)
	}
	return ctl
}

func (s *station) close() {
	s.monitor.Stop()
	_ = s.log.Sync()
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "station",
		Short:         "Taproom inventory counting station",
		Version:       buildinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.apiURL, "api", "", "API base URL (default $API_URL)")
	root.PersistentFlags().StringVar(&f.cacheDir, "cache-dir", "", "directory for the offline queue and catalog (default $CACHE_DIR)")
	root.PersistentFlags().BoolVar(&f.quickScan, "quick-scan", false, "return to the scanner after every save")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "development logging")

	root.AddCommand(newCountCmd(f), newSyncCmd(f), newShowCmd(f))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
