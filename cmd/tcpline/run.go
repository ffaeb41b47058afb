package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tcpline/internal/config"
	"tcpline/internal/driver"
	"tcpline/internal/home"
	"tcpline/internal/metrics"
	"tcpline/internal/sink"
	"tcpline/internal/telemetry"
)

func newRunCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to an endpoint and publish its telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			cfgPath, _ := cmd.Flags().GetString("config")
			machineID, _ := cmd.Flags().GetString("machine-id")
			sinkURL, _ := cmd.Flags().GetString("sink")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			count, _ := cmd.Flags().GetInt("count")

			hd, err := resolveHome(homeFlag)
			if err != nil {
				return fmt.Errorf("resolve home directory: %w", err)
			}
			if cfgPath == "" {
				cfgPath = hd.ConfigPath()
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if machineID == "" {
				if err := hd.EnsureExists(); err != nil {
					return err
				}
				if machineID, err = hd.MachineID(); err != nil {
					return err
				}
			}
			return run(cmd.Context(), logger, cfg, machineID, sinkURL, metricsAddr, count)
		},
	}
	cmd.Flags().String("config", "", "driver config file, .json, .yaml or .yml (default: <home>/tcpline.yaml)")
	cmd.Flags().String("machine-id", "", "machine id stamped on every point (default: persisted in <home>/machine_id)")
	cmd.Flags().String("sink", "stdout:", "where to publish points: stdout:, mqtt://host:port/prefix, kafka://brokers/topic")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().Int("count", 0, "stop after publishing this many points (0 = until interrupted)")
	return cmd
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, machineID, sinkURL, metricsAddr string, count int) error {
	d, err := driver.New(cfg, machineID, driver.WithLogger(logger))
	if err != nil {
		return err
	}

	out, err := sink.Open(ctx, sinkURL, logger)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer out.Close()

	logger.Info("starting", "addr", cfg.Addr(), "format", cfg.Format, "machine_id", d.MachineID())

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(d, d.MachineID()), metrics.NewProcessCollector(d.MachineID()))
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			logger.Info("metrics server listening", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := d.Connect(gctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		n, err := pump(gctx, d, out, cfg.EmitInterval(), count, logger)
		logger.Info("pump finished", "published", n)
		if count > 0 && n >= count {
			return errDone
		}
		return err
	})

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if derr := d.Disconnect(stopCtx); derr != nil {
		logger.Warn("disconnect", "error", derr)
	}

	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(d.Status())

	if errors.Is(err, errDone) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func resolveHome(flagValue string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// errDone ends the errgroup once --count points were published.
var errDone = errors.New("point count reached")

// reader is the part of the driver pump consumes.
type reader interface {
	ReadSequenced(ctx context.Context) (telemetry.Point, uint64, error)
}

// pump polls r once per interval and publishes each new point, skipping
// timeouts and repeated reads of the same sample. Repeats are recognised by
// sequence number, so distinct samples sharing a timestamp all go out. It
// returns the number published and stops after max points when max > 0.
func pump(ctx context.Context, r reader, out sink.Sink, interval time.Duration, max int, logger *slog.Logger) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	published := 0
	for max <= 0 || published < max {
		p, seq, err := r.ReadSequenced(ctx)
		switch {
		case errors.Is(err, driver.ErrNoTelemetry):
			logger.Debug("no telemetry yet")
			continue
		case err != nil:
			return published, err
		}

		if seq != lastSeq {
			lastSeq = seq
			ok, err := publish(ctx, out, p, logger)
			if err != nil {
				return published, err
			}
			if ok {
				published++
			}
		}

		select {
		case <-ctx.Done():
			return published, ctx.Err()
		case <-ticker.C:
		}
	}
	return published, nil
}

// publish sends p, logging and dropping it when the sink fails. Only a
// cancelled ctx is returned as an error.
func publish(ctx context.Context, out sink.Sink, p telemetry.Point, logger *slog.Logger) (bool, error) {
	if err := out.Publish(ctx, p); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn("publish failed", "error", err, "ts", p.TS)
		return false, nil
	}
	return true, nil
}
