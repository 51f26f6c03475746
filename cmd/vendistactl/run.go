package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/abrant-ru/vendista/config"
	"github.com/abrant-ru/vendista/logger"
	"github.com/abrant-ru/vendista/metrics"
	"github.com/abrant-ru/vendista/slave"
	"github.com/abrant-ru/vendista/transport"
)

const shutdownTimeout = 5 * time.Second

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		port string
		baud int
		id   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured terminals until interrupted",
		Example: `  vendistactl run --config /etc/vendista.toml
  vendistactl run --port /dev/ttyUSB0 --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			if port != "" {
				tcfg := transport.DefaultConfig(port)
				if baud != 0 {
					tcfg.BaudRate = baud
				}
				if err := tcfg.Validate(); err != nil {
					return err
				}
				if id == "" {
					id = port
				}
				cfg.Terminals = append(cfg.Terminals, config.Terminal{ID: id, Transport: tcfg})
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if len(cfg.Terminals) == 0 {
				return errors.New("no terminals configured, use --config or --port")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger.NewSlog(cfg.LogLevel, cfg.LogSource))
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "add a terminal on this port (device path or tcp://host:port)")
	cmd.Flags().IntVarP(&baud, "baud", "b", 0, "baud rate of --port")
	cmd.Flags().StringVar(&id, "id", "", "terminal id of --port")

	return cmd
}

// run drives the terminals of cfg until ctx ends or a terminal stops on its
// own after a transport failure.
func run(ctx context.Context, cfg config.Config, log logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := cfg.NewEventQueue()
	terms, err := cfg.NewTerminals(events, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if _, err := metrics.Register(reg, events, terms...); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	started := make([]*slave.Terminal, 0, len(terms))
	defer func() {
		for _, t := range started {
			if err := t.Stop(); err != nil {
				log.Error("stop terminal", "terminal", t.ID(), "error", err)
			}
		}
	}()
	for _, t := range terms {
		if err := t.Start(ctx); err != nil {
			return fmt.Errorf("start terminal %s: %w", t.ID(), err)
		}
		started = append(started, t)
	}

	if cfg.MetricsListen != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           newRouter(reg, cfg.MetricsPath, terms),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics server listening", "addr", cfg.MetricsListen, "path", cfg.MetricsPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	go logEvents(ctx, events, log)

	stopped := make(chan *slave.Terminal, len(terms))
	for _, t := range terms {
		go func() {
			select {
			case <-t.Done():
				stopped <- t
			case <-ctx.Done():
			}
		}()
	}

	select {
	case <-ctx.Done():
	case t := <-stopped:
		if ctx.Err() == nil {
			return fmt.Errorf("terminal %s stopped: %w", t.ID(), slave.ErrTransport)
		}
	}
	log.Info("shutting down")

	return nil
}

func logEvents(ctx context.Context, events *slave.EventQueue, log logger.Logger) {
	for {
		ev, err := events.Wait(ctx)
		if err != nil {
			return
		}

		if ev.Type == slave.EventError {
			log.Warn("terminal error", "terminal", ev.SenderID(), "code", ev.Code.String(), "error", ev.Err)
			continue
		}
		log.Info("terminal event", "terminal", ev.SenderID(), "event", ev.String())
	}
}
