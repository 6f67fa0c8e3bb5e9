package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type RoomID string

func (id RoomID) String() string { return string(id) }

var (
	// ErrRoomClosed は停止済みのルームにコマンドを投入した場合に返されるエラーです。
	ErrRoomClosed = errors.New("room is closed")
	// ErrRoomPanic はルームのゴルーチン内で発生したpanicを表します。
	ErrRoomPanic = errors.New("room command panicked")
)

// Application はルームのゴルーチン上でのみ呼び出されるゲームロジックです。
type Application interface {
	// Tick は固定周期で呼び出されます。エラーはそのルームにとって致命的なものとして扱われます。
	Tick(ctx context.Context) error
	// Abort は Tick の失敗やpanicの後に呼び出されます。
	Abort(ctx context.Context, cause error)
}

// Outbox はアプリケーションからセッションへの送出口です。
type Outbox interface {
	Attach(sessionID SessionID)
	Detach(sessionID SessionID)
	Broadcast(ctx context.Context, data []byte)
	SendTo(ctx context.Context, sessionID SessionID, data []byte)
}

type roomCommand struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// Room は1ルーム分の直列化単位です。状態を変更する操作はすべて Run のゴルーチン上で到着順に適用されます。
type Room struct {
	ID       RoomID
	sessions map[SessionID]struct{}

	pubsub      PubSub
	application Application // 外部からアプリケーションロジックを注入できる

	cmdCh chan roomCommand

	tickInterval time.Duration

	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

var _ Outbox = (*Room)(nil)

func NewRoom(id RoomID, pubsub PubSub, tickInterval time.Duration) *Room {
	if tickInterval <= 0 {
		tickInterval = time.Second / 20
	}
	return &Room{
		ID:           id,
		sessions:     make(map[SessionID]struct{}),
		pubsub:       pubsub,
		cmdCh:        make(chan roomCommand, 256),
		tickInterval: tickInterval,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Mount は Run の前に一度だけ呼び出します。
func (r *Room) Mount(application Application) {
	r.application = application
}

func (r *Room) Attach(sessionID SessionID) {
	r.sessions[sessionID] = struct{}{}
}

func (r *Room) Detach(sessionID SessionID) {
	delete(r.sessions, sessionID)
}

func (r *Room) Broadcast(ctx context.Context, data []byte) {
	for sessionID := range r.sessions {
		r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{SessionID: sessionID, Data: data})
	}
}

func (r *Room) SendTo(ctx context.Context, sessionID SessionID, data []byte) {
	r.pubsub.Publish(ctx, SessionTopic(sessionID), Message{SessionID: sessionID, Data: data})
}

// Exec は fn をルームのゴルーチン上で実行し、その結果を待ちます。
func (r *Room) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := roomCommand{fn: fn, reply: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRoomClosed
	case r.cmdCh <- cmd:
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrRoomClosed
		}
	}
}

// Stop はルームの処理スケジュールを止めます。ルームのゴルーチン上から呼んでも安全です。
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Done は Run の終了時に閉じられます。
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) Run(ctx context.Context) error {
	defer close(r.done)
	if r.application == nil {
		return fmt.Errorf("room %s: no application mounted", r.ID)
	}

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.quit:
			return nil
		case cmd := <-r.cmdCh:
			cmd.reply <- r.exec(ctx, cmd.fn)
		case <-ticker.C:
			// 同じtick窓に届いたコマンドを先に適用する
		CMD_LOOP:
			for {
				select {
				case cmd := <-r.cmdCh:
					cmd.reply <- r.exec(ctx, cmd.fn)
				default:
					break CMD_LOOP
				}
			}
			r.tick(ctx)
		}
	}
}

func (r *Room) exec(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "room command panicked", "roomID", r.ID, "panic", p)
			err = fmt.Errorf("%w: %v", ErrRoomPanic, p)
		}
	}()
	return fn(ctx)
}

func (r *Room) tick(ctx context.Context) {
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("%w: %v", ErrRoomPanic, p)
			}
		}()
		return r.application.Tick(ctx)
	}()
	if err == nil {
		return
	}
	slog.ErrorContext(ctx, "room tick failed, aborting match", "roomID", r.ID, "err", err)
	if abortErr := r.exec(ctx, func(ctx context.Context) error {
		r.application.Abort(ctx, err)
		return nil
	}); abortErr != nil {
		slog.ErrorContext(ctx, "room abort failed", "roomID", r.ID, "err", abortErr)
	}
}
