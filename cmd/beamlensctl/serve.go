package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

// ServeCmd starts the supervisor's background workers (detector loop,
// watcher and schedule ticks) and the admin HTTP surface, blocking until
// interrupted.
type ServeCmd struct {
	Addr string `help:"Admin HTTP listen address." default:":8090"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	sup, cfg, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}
	sup.Start(ctx)
	defer sup.Stop()

	httpSrv := &http.Server{
		Addr:    c.Addr,
		Handler: newAdminRouter(sup),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("beamlens supervisor %q running, admin surface on %s\n", cfg.Name, c.Addr)
	fmt.Printf("watchers: %v\n", sup.ListWatchers())

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
