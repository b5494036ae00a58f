package cmd

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

	"github.com/wonny/marketcache/internal/api/handlers"
	"github.com/wonny/marketcache/internal/api/router"
)

var servePort int

// serveCmd 읽기 전용 HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "가격 캐시 HTTP API 실행",
	Long: `가격 캐시를 HTTP로 제공합니다. Ctrl+C로 종료할 수 있습니다.

Endpoints:
  GET /health, /health/ready
  GET /api/status
  GET /api/prices?tickers=AAPL,005930[&use_cache=false]
  GET /api/prices/{ticker}/latest`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default SERVER_PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}

	a, err := newApp(cmd.Context(), cfg, optionalUniverse(), "api")
	if err != nil {
		return err
	}
	defer a.Close()

	var db handlers.DBHealthChecker
	if a.pool != nil {
		db = a.pool
	}
	var latest handlers.LatestReader
	if a.publisher != nil {
		latest = a.publisher
	}

	handler := router.NewRouter(&router.Config{
		PricesHandler:  handlers.NewPricesHandler(a.loader, latest),
		HealthHandler:  handlers.NewHealthHandler(a.loader, db, serviceVersion),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Timeout:        cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("🚀 Price cache API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}

	log.Info().Msg("🛑 Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("Server stopped")
	return nil
}
