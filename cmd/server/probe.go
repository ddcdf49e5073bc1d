package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"consentsync/internal/sync/connectivity"
)

func newProbeCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run one connectivity check and exit non-zero when offline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := bootstrap(ctx, *debug)
			if err != nil {
				return err
			}
			defer d.Close()

			monitor := connectivity.New(d.store, d.backend, d.cfg.Probe.Endpoints,
				connectivity.WithLogger(d.log),
			)
			defer monitor.Close()
			connected := monitor.Refresh(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "connected=%t offline_mode=%t network_unreachable=%t\n",
				connected, monitor.OfflineMode(ctx), monitor.NetworkUnreachable(ctx))
			if !connected {
				return fmt.Errorf("backend not reachable")
			}
			return nil
		},
	}
}
