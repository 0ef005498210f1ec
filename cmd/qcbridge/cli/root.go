// Package cli implements qcbridge's cobra command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"qcbridge/internal/config"
	"qcbridge/internal/logging"
)

// NewRootCmd builds the qcbridge command tree.
func NewRootCmd(version string) *cobra.Command {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // filtering is done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	root := &cobra.Command{
		Use:   "qcbridge",
		Short: "Control-plane bridge between an audio-DSP engine and tool-call clients",
	}

	root.PersistentFlags().String("host", "localhost", "engine host")
	root.PersistentFlags().Int("port", 1710, "engine port")
	root.PersistentFlags().Bool("secure", false, "use a secure engine connection")
	root.PersistentFlags().Int("max-memory-mb", 500, "event cache memory budget in MB (0 disables the budget)")
	root.PersistentFlags().String("mqtt-broker", "", "MQTT broker URL for the optional bus mirror sink (e.g. tcp://localhost:1883)")
	root.PersistentFlags().StringSlice("kafka-brokers", nil, "Kafka broker addresses for the optional bus mirror sink")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(versionCmd, newServeCmd(logger), newStatusCmd(logger), newGetCmd(logger), newSetCmd(logger))
	return root
}

// configFromFlags builds a config.Config from the persistent flags,
// applied on top of config.Default().
func configFromFlags(cmd *cobra.Command) config.Config {
	cfg := config.Default()
	cfg.Engine.Host, _ = cmd.Flags().GetString("host")
	cfg.Engine.Port, _ = cmd.Flags().GetInt("port")
	cfg.Engine.Secure, _ = cmd.Flags().GetBool("secure")
	cfg.Cache.MaxMemoryMB, _ = cmd.Flags().GetInt("max-memory-mb")
	cfg.Bus.MQTT.Broker, _ = cmd.Flags().GetString("mqtt-broker")
	cfg.Bus.Kafka.Brokers, _ = cmd.Flags().GetStringSlice("kafka-brokers")
	return cfg
}
