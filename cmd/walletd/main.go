package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"veridian/internal/platform/config"
	"veridian/internal/platform/httpserver"
	"veridian/internal/platform/logger"
)

// main wires high-level dependencies, exposes the HTTP surface, and runs the
// notification feed next to it. Business logic lives in internal/multisig.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "walletd:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("walletd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to a YAML config file")
	addr := flags.String("addr", "", "HTTP listen address (overrides config)")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")
	storeDriver := flags.String("store", "", "record store: memory, sqlite, postgres")
	storeDSN := flags.String("dsn", "", "record store DSN or SQLite path")
	feedSource := flags.String("feed", "", "notification source: agent or kafka")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	override(&cfg.Server.Addr, *addr)
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Store.Driver, *storeDriver)
	override(&cfg.Store.DSN, *storeDSN)
	override(&cfg.Feed.Source, *feedSource)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := wire(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.close()

	if _, err := app.controller.ResumeAll(ctx); err != nil {
		log.ErrorContext(ctx, "failed to resume groups", "error", err)
	}

	srv := httpserver.New(cfg.Server.Addr, app.http)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "starting walletd", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "feed", cfg.Feed.Source)
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		return app.feed.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("walletd stopped", "error", err)
	return err
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
