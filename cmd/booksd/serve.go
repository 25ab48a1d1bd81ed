package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/books-engine/api"
	"github.com/warp/books-engine/integrity"
	"github.com/warp/books-engine/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the integrity scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().String("addr", "", "HTTP listen address (default :8080)")
	cmd.Flags().Duration("integrity-interval", 0, "audit/stock verification interval, 0s disables")
	_ = opts.v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	_ = opts.v.BindPFlag("integrity_interval", cmd.Flags().Lookup("integrity-interval"))
	return cmd
}

func serve(ctx context.Context, a *app) error {
	scheduler := integrity.NewScheduler(a.engine, a.metrics, logger.WithComponent("integrity"))
	scheduler.CheckInterval = a.cfg.IntegrityInterval
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(a.engine, a.store, scheduler, logger.WithComponent("api"))
	server := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      api.NewRouter(handler, a.registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.HTTPAddr).Str("db", a.cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.log.Info().Msg("server stopped")
	return nil
}
