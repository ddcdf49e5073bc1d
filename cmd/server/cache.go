package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"consentsync/internal/consent/models"
	"consentsync/internal/sync/cache"
)

func newCacheCmd(debug *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the local consent cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached consent entry; connectivity flags are kept",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := bootstrap(ctx, *debug)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := cache.New[[]models.Record](d.store, cache.WithLogger(d.log)).Clear(ctx); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
			return nil
		},
	})
	return cmd
}
