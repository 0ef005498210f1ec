package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"qcbridge/internal/control"
)

func newSetCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "set Component.Control=value [Component.Control=value ...]",
		Short: "Write one or more control values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromFlags(cmd)
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			writes := make([]control.Write, 0, len(args))
			for _, arg := range args {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("invalid assignment %q, expected Name=Value", arg)
				}
				writes = append(writes, control.Write{Name: name, Value: parseValue(raw)})
			}

			results, err := a.adapter.SetValues(context.Background(), writes)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Success {
					fmt.Printf("%s: ok\n", r.Name)
				} else {
					fmt.Printf("%s: error: %s\n", r.Name, r.Error)
				}
			}
			return nil
		},
	}
}

// parseValue infers a scalar type from a CLI argument the same way a
// JSON-RPC client's loosely-typed "value" field would arrive: numbers and
// booleans parse if possible, otherwise the literal string is used.
func parseValue(raw string) any {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
