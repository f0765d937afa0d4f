package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rxtrust/rxtrust-api/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP audit API",
		Long: `Run the HTTP audit API until interrupted.

Endpoints:
  GET    /health
  POST   /audit
  GET    /api/audits, /api/audits/{id}
  GET    /api/cache/stats
  DELETE /api/cache/expired
  GET    /api/registry`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, opts, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *rootOptions, port int) error {
	a, err := buildApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if port != 0 {
		a.cfg.Server.Port = port
		if err := a.cfg.Validate(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting rxtrust API at %s\n", color.CyanString("http://"+a.cfg.Address()))
	fmt.Fprintf(out, "Audit cache: %s (ttl %s)\n", a.store.Path(), a.store.TTL())
	fmt.Fprintf(out, "NSQ registry: %s (%d records)\n", a.registry.Path(), a.registry.Len())
	fmt.Fprintln(out, "Press Ctrl+C to stop the server.")

	g, gctx := errgroup.WithContext(ctx)
	srv := server.New(a.service, a.store, a.registry, a.logger)
	g.Go(func() error {
		return srv.Run(gctx, a.cfg.Address())
	})
	if a.cfg.Registry.Watch {
		g.Go(func() error {
			if err := a.registry.Watch(gctx); err != nil {
				a.logger.Warn("Registry: watch stopped", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
