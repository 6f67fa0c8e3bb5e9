package main

import (
	"log/slog"

	"blockfall/server/application"
	"blockfall/server/domain"
)

// bot は1接続分のボットの状態です。受信メッセージを受け取り、返信すべきメッセージを返します。
type bot struct {
	room       string
	minPlayers int
	logger     *slog.Logger

	sessionID  domain.SessionID
	controller application.BotController
	// 同じ待機フェーズで start を重ねて送らない
	startSent bool
}

func newBot(room string, minPlayers int, logger *slog.Logger) *bot {
	return &bot{
		room:       room,
		minPlayers: minPlayers,
		logger:     logger,
		controller: application.NewRuleBotController(),
	}
}

func (b *bot) handle(data []byte) [][]byte {
	env, err := domain.DecodeEnvelope(data)
	if err != nil {
		b.logger.Warn("undecodable message", "err", err)
		return nil
	}

	switch env.T {
	case domain.MsgAssign:
		p, err := domain.DecodePayload[domain.AssignPayload](env)
		if err != nil {
			return nil
		}
		b.sessionID = p.SessionID
		b.logger.Info("session assigned", "sessionID", b.sessionID)
		room := b.room
		return [][]byte{domain.MustEncode(domain.MsgJoin, domain.JoinPayload{Room: &room})}

	case domain.MsgPing:
		return [][]byte{domain.MustEncode(domain.MsgPong, nil)}

	case domain.MsgJoined:
		ev, err := domain.DecodePayload[application.JoinedEvent](env)
		if err != nil {
			return nil
		}
		return b.maybeStart(ev.RoomUpdatedEvent)

	case domain.MsgRoomUpdated:
		ev, err := domain.DecodePayload[application.RoomUpdatedEvent](env)
		if err != nil {
			return nil
		}
		return b.maybeStart(ev)

	case domain.MsgTickState:
		ev, err := domain.DecodePayload[application.TickStateEvent](env)
		if err != nil {
			return nil
		}
		return b.play(ev)

	case domain.MsgOutcome:
		ev, err := domain.DecodePayload[application.OutcomeEvent](env)
		if err == nil {
			won := ev.WinnerID != nil && *ev.WinnerID == b.sessionID
			b.logger.Info("game over", "won", won)
		}
		b.controller = application.NewRuleBotController()

	case domain.MsgError:
		if p, err := domain.DecodePayload[domain.ErrorPayload](env); err == nil {
			b.logger.Debug("request rejected", "intent", p.Intent, "code", p.Code, "message", p.Message)
		}
	}
	return nil
}

// maybeStart はオーナーのボットだけが、人数が揃ったら開始を要求します。
func (b *bot) maybeStart(ev application.RoomUpdatedEvent) [][]byte {
	if ev.Status != application.StatusWaiting {
		b.startSent = false
		return nil
	}
	if ev.Owner != b.sessionID || b.startSent || len(ev.Players) < b.minPlayers {
		return nil
	}
	b.startSent = true
	b.logger.Info("starting game", "room", ev.RoomName, "players", len(ev.Players))
	return [][]byte{domain.MustEncode(domain.MsgStart, nil)}
}

func (b *bot) play(ev application.TickStateEvent) [][]byte {
	for _, view := range ev.PerPlayer {
		if view.PlayerID != b.sessionID {
			continue
		}
		if view.Status != application.PlayerPlaying {
			return nil
		}
		moves := b.controller.Decide(view)
		out := make([][]byte, 0, len(moves))
		for _, m := range moves {
			out = append(out, domain.MustEncode(domain.MsgMove, domain.MovePayload{Direction: string(m)}))
		}
		return out
	}
	return nil
}
