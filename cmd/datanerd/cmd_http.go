package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datanerd/internal/catalog"
	"datanerd/internal/httpapi"
)

var flagHTTPAddr string

func init() {
	httpCmd.Flags().StringVar(&flagHTTPAddr, "addr", "", "listen address (overrides config)")
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve the REST surface",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if cfg.Catalog.Watch {
			w, err := catalog.NewWatcher(a.store)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()
		}
		go sweepLoop(ctx, a)

		addr := cfg.HTTP.Addr
		if flagHTTPAddr != "" {
			addr = flagHTTPAddr
		}
		srv := httpapi.New(httpapi.Config{
			Addr:           addr,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			ReadTimeout:    cfg.HTTP.GetReadTimeout(),
			WriteTimeout:   cfg.HTTP.GetWriteTimeout(),
		}, a.store, a.analyst, a.cache, a.sessions, version)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
