package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sdlcboard/api/internal/app"
	"sdlcboard/api/internal/export"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the board sync HTTP API",
	Long: `Serves the board API on BOARD_ADDR (default :3001):

  GET  /api/json      current board
  POST /api/update    merge phases into the board
  POST /api/save      replace the board
  GET  /api/history   saved revisions (git and postgres stores)
  GET  /api/search    search board items
  GET  /api/export    board as html or pdf`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	service := app.New(cfg, b.store, b.search, export.NewServiceWithPDF(export.PDFOptions{ExecPath: cfg.ChromePath}), logger)
	go func() {
		if err := service.Reindex(ctx); err != nil {
			logger.Warn("initial index failed", zap.Error(err))
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("board sync API listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.Store),
			zap.Bool("conflict_check", cfg.ConflictCheck),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	service.Wait()
	return nil
}
