package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"blockfall/server/domain"
)

// Gateway は受信したエンベロープを解釈して RoomRegistry の操作に変換します。
type Gateway struct {
	registry *RoomRegistry
}

var _ domain.Dispatcher = (*Gateway)(nil)

func NewGateway(registry *RoomRegistry) *Gateway {
	return &Gateway{registry: registry}
}

func (g *Gateway) Connect(ctx context.Context, sessionID domain.SessionID, name string) {
	g.registry.Connect(sessionID, name)
	slog.DebugContext(ctx, "session connected", "sessionID", sessionID, "name", name)
}

func (g *Gateway) Disconnect(ctx context.Context, sessionID domain.SessionID) {
	g.registry.Disconnect(ctx, sessionID)
	slog.DebugContext(ctx, "session disconnected", "sessionID", sessionID)
}

// Dispatch は1メッセージを処理します。要求エラーは要求元だけに返す error エンベロープになります。
// 無効な操作は通知せず、盤面の再送で代えます。
func (g *Gateway) Dispatch(ctx context.Context, sessionID domain.SessionID, data []byte) ([]byte, error) {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		return domain.EncodeErrorMessage("", "BadRequest", "the request could not be decoded"), fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	err = g.handle(ctx, sessionID, env)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, ErrInvalidMove):
		slog.DebugContext(ctx, "move rejected", "sessionID", sessionID, "err", err)
		return nil, err
	}

	code, message, ok := DescribeError(env.T, err)
	if !ok {
		slog.ErrorContext(ctx, "unexpected dispatch error", "sessionID", sessionID, "type", env.T, "err", err)
		code, message = "Internal", "internal server error"
	} else {
		slog.DebugContext(ctx, "request rejected", "sessionID", sessionID, "type", env.T, "code", code)
	}
	return domain.EncodeErrorMessage(env.T, code, message), err
}

func (g *Gateway) handle(ctx context.Context, sessionID domain.SessionID, env domain.Envelope) error {
	switch env.T {
	case domain.MsgJoin:
		p, err := domain.DecodePayload[domain.JoinPayload](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		_, err = g.registry.CreateOrJoin(ctx, sessionID, JoinRequest{
			Room: p.Room,
			Solo: p.Solo,
			Mode: p.Mode,
			Name: p.Name,
		})
		return err
	case domain.MsgLeave:
		return g.registry.Leave(ctx, sessionID)
	case domain.MsgStart:
		return g.registry.StartGame(ctx, sessionID)
	case domain.MsgMode:
		p, err := domain.DecodePayload[domain.ModePayload](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return g.registry.ChangeMode(ctx, sessionID, p.Mode)
	case domain.MsgMove:
		p, err := domain.DecodePayload[domain.MovePayload](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return g.registry.Move(ctx, sessionID, p.Direction)
	case domain.MsgSpectate:
		return g.registry.Spectate(ctx, sessionID)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownIntent, env.T)
	}
}
