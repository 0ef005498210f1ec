package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"qcbridge/internal/model"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFromFlags(cmd)
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			go a.coord.Run()

			groupID := "default"
			if _, err := a.poller.Create(groupID, []string{"MainMixer.gain", "MainMixer.mute", "InputGain1.gain"}, 1000, model.PriorityNormal); err != nil {
				return err
			}
			if err := a.poller.SetAutoPoll(groupID, true); err != nil {
				return err
			}

			logger.Info("qcbridge started", "engine", cfg.Engine.Host, "port", cfg.Engine.Port)
			<-ctx.Done()
			logger.Info("qcbridge shutting down")
			return nil
		},
	}
}
