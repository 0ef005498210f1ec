package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newStatusCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine connection status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFromFlags(cmd)
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			status := a.adapter.Status(context.Background())
			fmt.Printf("platform=%s state=%s code=%d message=%q\n", status.Platform, status.State, status.Code, status.String)
			return nil
		},
	}
}
