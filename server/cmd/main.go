package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"blockfall/server"
	"blockfall/server/adapter/statslog"
	"blockfall/server/application"
	"blockfall/server/domain"
	"blockfall/server/handler"
	"blockfall/server/telemetry"
	"blockfall/utils"

	"github.com/joho/godotenv"
)

func main() {
	// .env が無くても環境変数だけで起動できる
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := utils.GetEnvDefault("ADDR", "localhost")
	port := utils.GetEnvDefault("PORT", "9090")

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "blockfall",
		Endpoint:    utils.GetEnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Insecure:    utils.GetEnvDefault("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
	})
	if err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}

	sink, err := statslog.Open(ctx, utils.GetEnvDefault("STATS_PATH", ""))
	if err != nil {
		log.Fatalf("stats sink: %v", err)
	}

	pubsub := domain.NewSimplePubSub()
	registry := application.NewRoomRegistry(application.RegistryConfig{
		TickInterval: utils.GetEnvDuration("TICK_INTERVAL", 50*time.Millisecond),
		Match: application.MatchConfig{
			GravityTicks: utils.GetEnvInt("GRAVITY_TICKS", application.DefaultGravityTicks),
			PreviewSize:  utils.GetEnvInt("PREVIEW_SIZE", application.DefaultPreviewSize),
			IdleTimeout:  utils.GetEnvDuration("ROOM_IDLE_TIMEOUT", application.DefaultIdleTimeout),
			ResultLinger: utils.GetEnvDuration("RESULT_LINGER", application.DefaultResultLinger),
		},
	}, pubsub, sink)
	if err := registry.Start(ctx); err != nil {
		log.Fatalf("registry start: %v", err)
	}

	h := server.Route(server.RouteConfig{
		PubSub:     pubsub,
		Dispatcher: application.NewGateway(registry),
		Accept: handler.AcceptConfig{
			Secret:       []byte(utils.GetEnvDefault("AUTH_SECRET", "")),
			PingInterval: utils.GetEnvDuration("PING_INTERVAL", 10*time.Second),
			IdleTimeout:  utils.GetEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Second),
		},
		RoomCount: registry.RoomCount,
	})
	s := server.NewServer(fmt.Sprintf("%s:%s", addr, port), h)

	go func() {
		if err := s.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()
	slog.InfoContext(ctx, "server listening", "addr", addr+":"+port)

	<-ctx.Done()
	slog.InfoContext(ctx, "shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "graceful shutdown failed", "err", err)
		if err := s.Close(); err != nil {
			slog.ErrorContext(ctx, "forced close failed", "err", err)
		}
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "registry shutdown failed", "err", err)
	}
	if err := sink.Close(); err != nil {
		slog.ErrorContext(ctx, "stats sink close failed", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "telemetry shutdown failed", "err", err)
	}
	slog.InfoContext(ctx, "server shutdown complete")
}
