package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"estate-auth/internal/config"
	"estate-auth/internal/factory"
	"estate-auth/internal/handler"
	"estate-auth/internal/util"
)

func main() {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	f, err := factory.New(cfg)
	if err != nil {
		util.Fatal("failed to initialize services", zap.Error(err))
	}
	defer f.Close()

	router := handler.NewRouter(cfg, f.AuthHandler, f.ResetHandler, f.ActivityHandler, f.Tokens, f.HealthCheck)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()
	if f.AuditSink != nil {
		go f.AuditSink.Run(sinkCtx)
	}

	go startServer(server, cfg)

	waitForShutdown(server, stopSink)
}

func startServer(server *http.Server, cfg *config.Config) {
	util.Info("Starting server",
		zap.String("address", server.Addr),
		zap.String("environment", cfg.Environment),
	)

	var err error
	if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
		err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("server failed", zap.Error(err))
	}
}

func waitForShutdown(server *http.Server, stopSink context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	util.Info("Shutting down", zap.String("signal", sig.String()))

	stopSink()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		util.Error("graceful shutdown failed", zap.Error(err))
	}

	util.Info("Server stopped")
}
