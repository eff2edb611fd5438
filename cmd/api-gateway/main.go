package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/futurisms/overlay-platform-sub000/internal/bootstrap"
	"github.com/futurisms/overlay-platform-sub000/internal/observability"
)

func main() {
	observability.InitLogger("api-gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracingFromEnv("overlay-api-gateway")
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}
	defer shutdownTracing(context.Background())

	cp, err := bootstrap.NewControlPlaneFromEnv(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap control plane")
	}
	cp.Coordinator.Start(ctx)

	port := os.Getenv("OVERLAY_GATEWAY_PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: cp.Server.Handler()}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info().Str("port", port).Msg("api-gateway listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("api-gateway failed")
	}
	cp.Coordinator.Wait()
}
