// notaryd runs the notarization service: a websocket endpoint both proof
// modes talk to, plus a health probe. Configuration comes from the
// environment (optionally a .env file), matching the deployment layout.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"webnotary/notary"
	"webnotary/shared"
)

func main() {
	shared.LoadEnvFile()

	log, err := shared.NewLoggerFromEnv("notary")
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	svc, err := notary.NewService(notary.ConfigFromEnv(), log)
	if err != nil {
		log.Fatal("failed to initialize notary", zap.Error(err))
	}
	log.Info("notary initialized", zap.String("address", svc.Address().Hex()))

	addr := shared.GetEnvOrDefault("NOTARY_LISTEN_ADDR", ":8080")
	server := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}
}
