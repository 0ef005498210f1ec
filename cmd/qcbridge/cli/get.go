package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newGetCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get [Component.Control ...]",
		Short: "Read one or more control values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromFlags(cmd)
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.adapter.GetValues(context.Background(), args)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s = %v (%s)\n", r.Name, r.Value, r.String)
			}
			return nil
		},
	}
}
