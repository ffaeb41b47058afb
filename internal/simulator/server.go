// Package simulator serves synthetic roaster telemetry over TCP, one line
// per interval, in the formats the driver consumes. Every accepted
// connection starts a fresh roast.
package simulator

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"tcpline/internal/logging"
)

// Config holds simulator configuration.
type Config struct {
	// Addr is the TCP address to listen on (e.g., ":7878").
	Addr string

	// Format is "jsonl" (default) or "csv".
	Format string

	// Interval between lines. Defaults to one second.
	Interval time.Duration

	// Header sends the CSV column names as the first line of each
	// connection.
	Header bool

	// Delimiter separates CSV fields. Defaults to ",".
	Delimiter string

	// GarbageEvery sends a malformed line after every n good ones.
	// Zero disables it.
	GarbageEvery int

	// Seed makes the noise reproducible. Zero picks a random seed.
	Seed uint64

	Logger *slog.Logger
}

// Server is a telemetry endpoint.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a simulator. It does not listen until Listen or Run.
func New(cfg Config) (*Server, error) {
	cfg.Format = cmp.Or(cfg.Format, "jsonl")
	if cfg.Format != "jsonl" && cfg.Format != "csv" {
		return nil, fmt.Errorf("simulator: unsupported format %q", cfg.Format)
	}
	cfg.Delimiter = cmp.Or(cfg.Delimiter, ",")
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}
	return &Server{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "simulator", "format", cfg.Format),
	}, nil
}

// Listen binds the listening socket.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("simulator listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens if needed and serves connections until ctx is cancelled.
// Returns nil on normal cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var conns uint64
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.logger.Info("simulator stopping")
				return nil
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}
		conns++
		rng := rand.New(rand.NewPCG(s.cfg.Seed, conns))
		wg.Go(func() {
			defer func() { _ = conn.Close() }()
			s.serveConn(ctx, conn, rng)
		})
	}
}

// serveConn streams lines to one client until it goes away or ctx ends.
func (s *Server) serveConn(ctx context.Context, conn net.Conn, rng *rand.Rand) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Info("client connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	w := bufio.NewWriter(conn)
	write := func(line string) bool {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return false
		}
		return w.Flush() == nil
	}

	if s.cfg.Format == "csv" && s.cfg.Header {
		if !write(csvHeader(s.cfg.Delimiter)) {
			return
		}
	}

	c := newCurve(rng, s.cfg.Interval)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for sent := 1; ; sent++ {
		if !write(s.line(c.next(time.Now()))) {
			logger.Info("client disconnected")
			return
		}
		if s.cfg.GarbageEvery > 0 && sent%s.cfg.GarbageEvery == 0 {
			if !write(garbage(s.cfg.Format, time.Now())) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) line(r reading) string {
	if s.cfg.Format == "csv" {
		return formatCSV(r, s.cfg.Delimiter)
	}
	return formatJSON(r)
}
