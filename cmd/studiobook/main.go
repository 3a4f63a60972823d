// Package main запускает HTTP-сервер сервиса бронирования занятий.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pkoshelev/studio-booking/internal/config"
	"github.com/pkoshelev/studio-booking/internal/handler"
	"github.com/pkoshelev/studio-booking/internal/middleware"
	"github.com/pkoshelev/studio-booking/internal/notify"
	"github.com/pkoshelev/studio-booking/internal/repository"
	"github.com/pkoshelev/studio-booking/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var notifier service.Notifier
	if cfg.NotifyGatewayAddress != "" {
		notifier = notify.NewClient(cfg.NotifyGatewayAddress)
	}

	svc := service.NewService(repo, notifier, logger, service.Windows{
		CancelWindow:   cfg.CancelWindow,
		OrderTimeout:   cfg.OrderTimeout,
		ReminderWindow: cfg.ReminderWindow,
		PurgeGrace:     cfg.PurgeGrace,
		DialogTTL:      cfg.DialogTTL,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AdminToken)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновых регламентных задач
	g.Go(func() error {
		svc.StartHousekeeping(ctx, cfg.HousekeepingPeriod)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting studio booking server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
