package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/sync"
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the change monitor and integrity scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, _, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := root.Lock(); err != nil {
				return err
			}
			defer root.Unlock()

			clock := catalog.SystemClock{}
			dispatcher := sync.LogDispatcher{}
			gate := sync.NewGate()
			gates := []sync.Waiter{gate}

			monitor := sync.NewMonitor(sync.MonitorConfig{
				Root:       root,
				Store:      store,
				Clock:      clock,
				Dispatcher: dispatcher,
				Gates:      gates,
				Debounce:   viper.GetDuration("debounce_window"),
			})
			scanner := sync.NewScanner(sync.ScannerConfig{
				Root:       root,
				Store:      store,
				Clock:      clock,
				Dispatcher: dispatcher,
				Gates:      gates,
				BatchSize:  viper.GetInt("scan_batch_size"),
				Interval:   viper.GetDuration("scan_interval"),
				Parallel:   viper.GetBool("scan_parallel"),
				Workers:    viper.GetInt("scan_workers"),
			})

			ctx := cmd.Context()
			if err := monitor.Watch(ctx); err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return monitor.Run(ctx) })
			g.Go(func() error { return scanner.Run(ctx) })

			slog.Info("daemon running", "root", root.Dir)
			err = g.Wait()
			slog.Info("daemon stopped")
			return err
		},
	}
}
