package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bundled backend schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := bootstrap(ctx, *debug)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.backend.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			d.log.Info("schema applied")
			return nil
		},
	}
}
