package server

import (
	"net/http"

	"blockfall/server/domain"
	"blockfall/server/handler"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouteConfig struct {
	PubSub     domain.PubSub
	Dispatcher domain.Dispatcher
	Accept     handler.AcceptConfig
	// RoomCount はヘルスチェックで返すルーム数
	RoomCount func() int
}

func Route(cfg RouteConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler.NewAcceptHandler(cfg.PubSub, cfg.Dispatcher, cfg.Accept))
	mux.Handle("/healthz", handler.NewHealthHandler(cfg.RoomCount))
	return otelhttp.NewHandler(mux, "blockfall")
}
