package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockfall/utils"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := utils.GetEnvDefault("ADDR", "localhost")
	port := utils.GetEnvDefault("PORT", "9090")
	botCount := utils.GetEnvInt("BOT_COUNT", 2)
	room := utils.GetEnvDefault("BOT_ROOM", "bots")
	if botCount <= 0 {
		slog.Error("invalid BOT_COUNT", "value", botCount)
		os.Exit(1)
	}

	serverURL := fmt.Sprintf("ws://%s:%s/ws", addr, port)
	slog.Info("starting bots", "count", botCount, "server", serverURL, "room", room)

	eg, ctx := errgroup.WithContext(ctx)
	for i := range botCount {
		eg.Go(func() error {
			runBot(ctx, serverURL, room, botCount, i)
			return nil
		})
	}

	_ = eg.Wait()
	slog.Info("all bots stopped")
}

func runBot(ctx context.Context, serverURL, room string, minPlayers, id int) {
	logger := slog.With("botID", id)

	for {
		if ctx.Err() != nil {
			return
		}
		err := botSession(ctx, serverURL, room, minPlayers, id, logger)
		if err != nil && ctx.Err() == nil {
			logger.Warn("bot session ended, reconnecting", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func botSession(ctx context.Context, serverURL, room string, minPlayers, id int, logger *slog.Logger) error {
	u := serverURL + "?name=" + url.QueryEscape(fmt.Sprintf("bot-%d", id))
	if token := utils.GetEnvDefault("BOT_TOKEN", ""); token != "" {
		u += "&token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	logger.Info("connected")
	b := newBot(room, minPlayers, logger)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "shutdown")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		for _, msg := range b.handle(data) {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}
