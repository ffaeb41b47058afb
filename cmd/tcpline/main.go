// Command tcpline reads roaster telemetry from a line-oriented TCP endpoint
// and publishes it to a sink. It can also serve synthetic telemetry.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tcpline/internal/logging"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:           "tcpline",
		Short:         "Line-oriented TCP telemetry client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			overrides, _ := cmd.Flags().GetStringSlice("log-component")
			return applyLogFlags(filterHandler, level, overrides)
		},
	}
	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("log-level", "info", "default log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringSlice("log-component", nil, "per-component log level override, e.g. driver=debug (repeatable)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(newRunCmd(logger), newSimulateCmd(logger), versionCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// applyLogFlags sets the default level and the component=level overrides.
// A malformed override leaves earlier ones applied.
func applyLogFlags(h *logging.ComponentFilterHandler, level string, overrides []string) error {
	h.SetDefaultLevel(logging.ParseLevel(level))
	for _, o := range overrides {
		component, lvl, ok := strings.Cut(o, "=")
		if !ok || component == "" {
			return fmt.Errorf("invalid --log-component %q (want component=level)", o)
		}
		h.SetLevel(component, logging.ParseLevel(lvl))
	}
	return nil
}
