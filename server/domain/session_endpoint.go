package domain

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBackpressure は書き込みチャネルが満杯の場合に返されるエラーです。
	ErrBackpressure = errors.New("write channel is full, apply backpressure")
	// ErrInitializationFailed はセッションエンドポイントの初期化に失敗した場合に返されるエラーです。
	ErrInitializationFailed = errors.New("failed to initialize session endpoint")
)

const (
	defaultPingInterval = 10 * time.Second
	defaultIdleTimeout  = 30 * time.Second
)

// SessionEndpoint は1接続分の読み込み・書き込み・購読ループを束ねます。
type SessionEndpoint struct {
	ctx    context.Context
	cancel context.CancelFunc

	session    *Session
	connection *Connection
	pubsub     PubSub
	dispatcher Dispatcher
	name       string

	pingInterval time.Duration
	idleTimeout  time.Duration

	ctrlCh  chan endpointEvent // 制御用チャネル
	writeCh chan []byte        // 書き込み用チャネル

	// lifecycle
	closed atomic.Bool
}

func NewSessionEndpoint(session *Session, connection *Connection, pubsub PubSub, dispatcher Dispatcher) (*SessionEndpoint, error) {
	if session == nil || connection == nil || pubsub == nil || dispatcher == nil {
		return nil, ErrInitializationFailed
	}
	ctx, cancel := context.WithCancel(context.Background())
	se := &SessionEndpoint{
		ctx:          ctx,
		cancel:       cancel,
		session:      session,
		connection:   connection,
		pubsub:       pubsub,
		dispatcher:   dispatcher,
		pingInterval: defaultPingInterval,
		idleTimeout:  defaultIdleTimeout,
		ctrlCh:       make(chan endpointEvent, 16),
		writeCh:      make(chan []byte, 1024),
	}
	return se, nil
}

// WithName は認証済みの表示名を設定します。
func (se *SessionEndpoint) WithName(name string) *SessionEndpoint {
	se.name = name
	return se
}

// WithTimeouts はテストや設定値でping間隔とアイドル判定時間を差し替えます。
func (se *SessionEndpoint) WithTimeouts(pingInterval, idleTimeout time.Duration) *SessionEndpoint {
	if pingInterval > 0 {
		se.pingInterval = pingInterval
	}
	if idleTimeout > 0 {
		se.idleTimeout = idleTimeout
	}
	return se
}

func (se *SessionEndpoint) Run() error {
	// 自分宛のメッセージを購読
	sessionTopic := SessionTopic(se.session.ID())
	msgCh := se.pubsub.Subscribe(sessionTopic)
	defer se.pubsub.Unsubscribe(sessionTopic, msgCh)

	se.dispatcher.Connect(se.ctx, se.session.ID(), se.name)

	// セッションID通知を最初に書き込む
	if err := se.Send(EncodeAssignMessage(se.session.ID(), se.name)); err != nil {
		se.close()
		return err
	}

	heartbeat := NewHeartbeatService(se.pingInterval, se.session, se.writeCh)

	eg, ctx := errgroup.WithContext(se.ctx)
	eg.Go(func() error {
		se.ownerLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.readLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.writeLoop(ctx)
		return nil
	})
	eg.Go(func() error {
		se.subscribeLoop(ctx, msgCh)
		return nil
	})
	eg.Go(func() error {
		heartbeat.Run(ctx)
		return nil
	})

	return eg.Wait()
}

func (se *SessionEndpoint) Send(data []byte) error {
	select {
	case se.writeCh <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (se *SessionEndpoint) Close(ctx context.Context) {
	se.sendCtrlEvent(ctx, endpointEvent{kind: evClose})
}

func (se *SessionEndpoint) ForceClose() {
	se.close()
}

// ownerLoop は論理セッションの状態を監視し、必要に応じて接続の管理を行います。
func (se *SessionEndpoint) ownerLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-se.ctrlCh:
			se.handleControlEvent(ctx, ev)
		case <-ticker.C:
			if ok, reason := se.session.IsIdle(se.idleTimeout); ok && reason.Has(IdleRead) {
				se.handleControlEvent(ctx, endpointEvent{
					kind: evClose,
					err:  errors.New(reason.String()),
				})
			}
		}
	}
}

func (se *SessionEndpoint) readLoop(ctx context.Context) {
	for {
		data, err := se.connection.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			se.sendCtrlEvent(ctx, endpointEvent{kind: evReadError, err: err})
			return
		}
		se.session.TouchRead()
		se.handleData(ctx, data)
	}
}

func (se *SessionEndpoint) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-se.writeCh:
			if err := se.connection.Write(ctx, data); err != nil {
				slog.WarnContext(ctx, "write failed", "sessionID", se.session.ID(), "err", err)
				continue
			}
			se.session.TouchWrite()
		}
	}
}

// subscribeLoop はpubsubからのメッセージをwriteChに転送します。
func (se *SessionEndpoint) subscribeLoop(ctx context.Context, msgCh <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case se.writeCh <- msg.Data:
			default:
				slog.WarnContext(ctx, "subscribeLoop: writeCh full, message dropped", "sessionID", se.session.ID())
			}
		}
	}
}

// close はプレイヤーの離脱を同期的に通知してから接続を閉じます。
func (se *SessionEndpoint) close() {
	if !se.closed.CompareAndSwap(false, true) {
		return
	}
	se.session.Close()
	se.dispatcher.Disconnect(context.Background(), se.session.ID())
	se.cancel()
	se.connection.Close()
}

func (se *SessionEndpoint) handleData(ctx context.Context, data []byte) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		slog.WarnContext(ctx, "failed to decode message", "sessionID", se.session.ID(), "err", err)
		return
	}
	if env.T == MsgPong {
		se.sendCtrlEvent(ctx, endpointEvent{kind: evPong})
		return
	}
	reply, err := se.dispatcher.Dispatch(ctx, se.session.ID(), data)
	if err != nil {
		slog.DebugContext(ctx, "dispatch failed", "sessionID", se.session.ID(), "type", env.T, "err", err)
	}
	if reply == nil {
		return
	}
	if err := se.Send(reply); err != nil {
		slog.WarnContext(ctx, "reply dropped", "sessionID", se.session.ID(), "err", err)
	}
}

// handleControlEvent は制御チャネルからのイベントを処理し論理セッションの状態を更新する唯一の関数です。
func (se *SessionEndpoint) handleControlEvent(ctx context.Context, ev endpointEvent) {
	switch ev.kind {
	case evClose:
		if ev.err != nil {
			slog.InfoContext(ctx, "closing idle session", "sessionID", se.session.ID(), "reason", ev.err)
		}
		se.close()
	case evPong:
		se.session.TouchPong()
	case evReadError:
		slog.DebugContext(ctx, "read failed, closing session", "sessionID", se.session.ID(), "err", ev.err)
		se.close()
	default:
		slog.WarnContext(ctx, "unknown endpoint event kind", "kind", ev.kind)
	}
}

func (se *SessionEndpoint) sendCtrlEvent(ctx context.Context, ev endpointEvent) {
	select {
	case se.ctrlCh <- ev:
	case <-ctx.Done():
	}
}
