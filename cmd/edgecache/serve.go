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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	originURL  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy",
	Long: `Start the HTTP proxy. The manifest is precached in the background;
until activation completes every request is passed through to the origin.

Control endpoints:
  GET  /_edgecache/health
  GET  /_edgecache/ready
  GET  /_edgecache/metrics
  POST /_edgecache/message   {"type":"SKIP_WAITING"} or {"type":"CLEAR_API_CACHE"}`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&originURL, "origin", "", "override origin base URL")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if originURL != "" {
		cfg.Origin = originURL
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(a.engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.engine.Install(ctx); err != nil {
			log.Error().Err(err).Msg("Install failed; send SKIP_WAITING to activate anyway")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Listen).
			Str("origin", cfg.Origin).
			Str("static_store", cfg.StaticCacheName()).
			Str("api_store", cfg.APICacheName()).
			Str("write_policy", string(cfg.WritePolicy)).
			Msg("Starting edge cache")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
