package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datanerd/internal/catalog"
	"datanerd/internal/logging"
	"datanerd/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool protocol over stdio",
	Long: `Runs the MCP server on stdin/stdout for a host AI runtime. All
logging goes to stderr. With catalog.watch enabled the semantic model
reloads on change, and generated dashboards are swept daily.`,
	Args: cobra.NoArgs,
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

		srv := mcp.New(a.store, a.analyst, a.cache, a.dashboards, version)
		return srv.Run(ctx)
	},
}

// sweepLoop expires sessions hourly and generated dashboards daily.
func sweepLoop(ctx context.Context, a *app) {
	sessionTick := time.NewTicker(time.Hour)
	dashboardTick := time.NewTicker(24 * time.Hour)
	defer sessionTick.Stop()
	defer dashboardTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTick.C:
			if n := a.sessions.Sweep(); n > 0 {
				logging.Session("swept %d expired sessions", n)
			}
		case <-dashboardTick.C:
			removed, err := a.dashboards.Sweep(cfg.Dashboard.SweepDays)
			if err != nil {
				logging.Get(logging.CategoryDashboard).Warn("sweep failed: %v", err)
				continue
			}
			if len(removed) > 0 {
				logging.Dashboard("swept %d generated dashboards", len(removed))
			}
		}
	}
}
