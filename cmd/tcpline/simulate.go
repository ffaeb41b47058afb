package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"tcpline/internal/simulator"
)

func newSimulateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Serve synthetic roaster telemetry over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			format, _ := cmd.Flags().GetString("format")
			interval, _ := cmd.Flags().GetDuration("interval")
			header, _ := cmd.Flags().GetBool("header")
			delimiter, _ := cmd.Flags().GetString("delimiter")
			garbageEvery, _ := cmd.Flags().GetInt("garbage-every")

			srv, err := simulator.New(simulator.Config{
				Addr:         addr,
				Format:       format,
				Interval:     interval,
				Header:       header,
				Delimiter:    delimiter,
				GarbageEvery: garbageEvery,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":7878", "listen address (host:port)")
	cmd.Flags().String("format", "jsonl", "line format: jsonl or csv")
	cmd.Flags().Duration("interval", time.Second, "time between lines")
	cmd.Flags().Bool("header", false, "send a CSV header line on each connection")
	cmd.Flags().String("delimiter", ",", "CSV field delimiter")
	cmd.Flags().Int("garbage-every", 0, "send a malformed line after every n good ones (0 = never)")
	return cmd
}
