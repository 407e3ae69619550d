package main

import (
	"context"
	"fmt"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/monitoring"
	"github.com/John-MustangGT/ntripwatch/internal/notifications"
	"github.com/spf13/cobra"
)

// quietNotifier discards alerts for --no-notify sweeps.
type quietNotifier struct{}

func (quietNotifier) Notify(context.Context, notifications.Alert) {}

func sweepCmd(g *globalFlags) *cobra.Command {
	var noNotify bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one recorded probe cycle over every caster",
		Long: "Run a single sweep exactly as the daemon would: probes are persisted,\n" +
			"states updated and alerts sent. Do not run while the daemon holds the database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var opts []monitoring.EngineOption
			if noNotify {
				opts = append(opts, monitoring.WithNotifier(quietNotifier{}))
			}
			collector := metrics.NewCollector(store)
			engine, err := monitoring.NewEngine(cfg, store, collector, opts...)
			if err != nil {
				return err
			}
			defer engine.Stop()

			engine.Subscribe(func(t monitoring.Transition) {
				line := fmt.Sprintf("%s %s -> %s", t.Caster, stateBadge(t.Previous), stateBadge(t.State))
				if t.Alert != "" {
					line += " " + muted("alert: "+string(t.Alert))
				}
				fmt.Println(line)
			})

			if err := engine.SyncCasters(cmd.Context()); err != nil {
				return err
			}
			summary, err := engine.Scheduler().SweepOnce(cmd.Context())
			if err != nil {
				return err
			}

			msg := fmt.Sprintf("swept %d casters in %s", summary.Casters, summary.Duration.Round(time.Millisecond))
			if summary.Failed > 0 {
				fmt.Println(errorMsg("%s, %d failed", msg, summary.Failed))
			} else {
				fmt.Println(successMsg("%s", msg))
			}

			casters, err := store.ListCasters(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := engine.Deriver().ReportAll(cmd.Context(), casters)
			if err != nil {
				return err
			}
			printStatus(rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "Do not send alerts for transitions")
	return cmd
}
