package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"blockfall/server/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// 切断済みセッションの墓標を保持する時間。切断と競合した要求を弾ければよい
const departedTTL = time.Minute

// RegistryConfig はルーム生成時に使う設定です。
type RegistryConfig struct {
	TickInterval time.Duration
	Match        MatchConfig
}

// JoinRequest は join 要求の中身です。
type JoinRequest struct {
	Room *string
	Solo bool
	Mode *string
	// Name が空でなければ表示名を上書きする
	Name string
}

type roomEntry struct {
	name   string
	room   *domain.Room
	match  *Match
	closed atomic.Bool // 墓標。立った後のエントリには参加できない
}

// sessionState はセッションごとの所属ルームです。mu で同一セッションの要求を直列化します。
type sessionState struct {
	mu    sync.Mutex
	name  string
	entry *roomEntry
	gone  bool
}

// RoomRegistry はプロセス全体のルーム一覧です。
// ルームの状態はそれぞれのルームのゴルーチンでのみ変更され、レジストリのロックを保持したまま待つことはありません。
type RoomRegistry struct {
	cfg    RegistryConfig
	pubsub domain.PubSub
	sink   RecordSink

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	rooms    map[string]*roomEntry
	sessions map[domain.SessionID]*sessionState
	departed map[domain.SessionID]time.Time
	closed   bool

	wg sync.WaitGroup
}

func NewRoomRegistry(cfg RegistryConfig, pubsub domain.PubSub, sink RecordSink) *RoomRegistry {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &RoomRegistry{
		cfg:      cfg,
		pubsub:   pubsub,
		sink:     sink,
		rooms:    make(map[string]*roomEntry),
		sessions: make(map[domain.SessionID]*sessionState),
		departed: make(map[domain.SessionID]time.Time),
	}
}

// Start はルームのゴルーチンを動かす基準のコンテキストを設定します。Start 前の参加要求は失敗します。
func (r *RoomRegistry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if r.ctx != nil {
		return errors.New("registry already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return nil
}

// Shutdown は全ルームを停止し、ゴルーチンの終了を待ちます。
func (r *RoomRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		entries = append(entries, e)
	}
	clear(r.rooms)
	cancel := r.cancel
	r.mu.Unlock()

	for _, e := range entries {
		e.closed.Store(true)
		e.room.Stop()
	}
	if cancel != nil {
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.InfoContext(ctx, "registry shut down", "rooms", len(entries))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoomCount は現在登録されているルーム数です。
func (r *RoomRegistry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// HasRoom は名前のルームが登録されているかを返します。
func (r *RoomRegistry) HasRoom(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[name]
	return ok
}

// Connect はセッションを登録し、表示名を覚えます。
func (r *RoomRegistry) Connect(id domain.SessionID, name string) {
	st := r.session(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	if name != "" {
		st.name = name
	}
}

// Disconnect はセッションを破棄し、所属ルームから同期的に離脱させます。
func (r *RoomRegistry) Disconnect(ctx context.Context, id domain.SessionID) {
	r.mu.Lock()
	st, ok := r.sessions[id]
	delete(r.sessions, id)
	r.markDepartedLocked(id)
	r.mu.Unlock()
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.gone = true
	if st.entry == nil {
		return
	}
	if err := r.leaveLocked(context.WithoutCancel(ctx), id, st); err != nil && !errors.Is(err, ErrNotInRoom) {
		slog.WarnContext(ctx, "leave on disconnect failed", "sessionID", id, "err", err)
	}
}

// CreateOrJoin は名前のルームに参加します。存在しなければ作成します。
// 名前が空で solo の場合は本人専用のルームを作ります。参加したルーム名を返します。
// 既存ルームへの参加では req.Mode は検証だけ行い、ルームのモードは変わりません。
func (r *RoomRegistry) CreateOrJoin(ctx context.Context, id domain.SessionID, req JoinRequest) (_ string, err error) {
	ctx, span := startSpan(ctx, "RoomRegistry.CreateOrJoin", id, attribute.Bool("room.solo", req.Solo))
	defer func() { endSpan(span, err) }()
	ctx = context.WithoutCancel(ctx)

	mode := ModeClassic
	if req.Mode != nil && *req.Mode != "" {
		if mode, err = ParseMode(*req.Mode); err != nil {
			return "", err
		}
	}
	var name string
	if req.Room != nil {
		name = *req.Room
	}
	if name == "" {
		if !req.Solo {
			return "", fmt.Errorf("%w: empty room name", ErrRoomNotFound)
		}
		name = "solo-" + uuid.NewString()
	}
	span.SetAttributes(attribute.String("room.name", name))

	st := r.session(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gone {
		return "", ErrSessionClosed
	}
	if req.Name != "" {
		st.name = req.Name
	}
	if st.entry != nil && st.entry.name != name {
		if err := r.leaveLocked(ctx, id, st); err != nil && !errors.Is(err, ErrNotInRoom) {
			return "", err
		}
	}

	e, err := r.lookupOrCreate(ctx, name, mode, req.Solo)
	if err != nil {
		return "", err
	}
	displayName := st.name
	err = e.room.Exec(ctx, func(ctx context.Context) error {
		return e.match.Join(ctx, id, displayName)
	})
	if errors.Is(err, domain.ErrRoomClosed) {
		err = fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	if err != nil {
		return "", err
	}
	st.entry = e
	return name, nil
}

// Leave は所属ルームから離脱します。
func (r *RoomRegistry) Leave(ctx context.Context, id domain.SessionID) (err error) {
	ctx, span := startSpan(ctx, "RoomRegistry.Leave", id)
	defer func() { endSpan(span, err) }()

	st := r.lookupSession(id)
	if st == nil {
		return ErrNotInRoom
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return r.leaveLocked(context.WithoutCancel(ctx), id, st)
}

// StartGame は所属ルームの試合を開始します。
func (r *RoomRegistry) StartGame(ctx context.Context, id domain.SessionID) (err error) {
	ctx, span := startSpan(ctx, "RoomRegistry.StartGame", id)
	defer func() { endSpan(span, err) }()
	return r.withMatch(ctx, id, func(ctx context.Context, m *Match) error {
		return m.Start(ctx, id)
	})
}

// ChangeMode は所属ルームのモードを変更します。
func (r *RoomRegistry) ChangeMode(ctx context.Context, id domain.SessionID, mode string) (err error) {
	ctx, span := startSpan(ctx, "RoomRegistry.ChangeMode", id, attribute.String("room.mode", mode))
	defer func() { endSpan(span, err) }()
	return r.withMatch(ctx, id, func(ctx context.Context, m *Match) error {
		return m.ChangeMode(ctx, id, mode)
	})
}

// Move は自分の盤面に操作を適用します。
func (r *RoomRegistry) Move(ctx context.Context, id domain.SessionID, direction string) error {
	return r.withMatch(ctx, id, func(ctx context.Context, m *Match) error {
		return m.Move(ctx, id, direction)
	})
}

// Spectate はトップアウト後に観戦へ切り替えます。
func (r *RoomRegistry) Spectate(ctx context.Context, id domain.SessionID) (err error) {
	ctx, span := startSpan(ctx, "RoomRegistry.Spectate", id)
	defer func() { endSpan(span, err) }()
	return r.withMatch(ctx, id, func(ctx context.Context, m *Match) error {
		return m.Spectate(ctx, id)
	})
}

// RoomState は所属ルームの現在の状態を返します。
func (r *RoomRegistry) RoomState(ctx context.Context, id domain.SessionID) (RoomUpdatedEvent, error) {
	var state RoomUpdatedEvent
	err := r.withMatch(ctx, id, func(ctx context.Context, m *Match) error {
		state = m.RoomState()
		return nil
	})
	return state, err
}

func (r *RoomRegistry) withMatch(ctx context.Context, id domain.SessionID, fn func(ctx context.Context, m *Match) error) error {
	st := r.lookupSession(id)
	if st == nil {
		return ErrNotInRoom
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entry
	if e == nil || e.closed.Load() {
		st.entry = nil
		return ErrNotInRoom
	}
	err := e.room.Exec(context.WithoutCancel(ctx), func(ctx context.Context) error {
		return fn(ctx, e.match)
	})
	if errors.Is(err, domain.ErrRoomClosed) {
		st.entry = nil
		return ErrNotInRoom
	}
	return err
}

func (r *RoomRegistry) leaveLocked(ctx context.Context, id domain.SessionID, st *sessionState) error {
	e := st.entry
	st.entry = nil
	if e == nil {
		return ErrNotInRoom
	}
	err := e.room.Exec(ctx, func(ctx context.Context) error {
		return e.match.Leave(ctx, id)
	})
	if errors.Is(err, domain.ErrRoomClosed) {
		// 放置で既に閉じられている
		return nil
	}
	return err
}

func (r *RoomRegistry) lookupOrCreate(ctx context.Context, name string, mode Mode, solo bool) (*roomEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ctx == nil {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.rooms[name]; ok {
		return e, nil
	}

	room := domain.NewRoom(domain.RoomID(name), r.pubsub, r.cfg.TickInterval)
	match := NewMatch(name, mode, solo, room, r.sink, r.cfg.Match)
	e := &roomEntry{name: name, room: room, match: match}
	match.OnClose(func(ctx context.Context) { r.release(ctx, e) })
	room.Mount(match)
	r.rooms[name] = e

	runCtx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := room.Run(runCtx); err != nil {
			slog.ErrorContext(runCtx, "room stopped with error", "roomName", name, "err", err)
		}
	}()
	slog.InfoContext(ctx, "room created", "roomName", name, "mode", mode, "solo", solo)
	return e, nil
}

// release はルームのゴルーチンから呼ばれ、墓標を立ててから一覧から外します。
func (r *RoomRegistry) release(ctx context.Context, e *roomEntry) {
	e.closed.Store(true)
	r.mu.Lock()
	if r.rooms[e.name] == e {
		delete(r.rooms, e.name)
	}
	r.mu.Unlock()
	e.room.Stop()
	slog.InfoContext(ctx, "room closed", "roomName", e.name)
}

// session はセッションの状態を返します。切断済みの ID には登録しない gone 状態を返します。
func (r *RoomRegistry) session(id domain.SessionID) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.departed[id]; ok {
		return &sessionState{gone: true}
	}
	st, ok := r.sessions[id]
	if !ok {
		st = &sessionState{}
		r.sessions[id] = st
	}
	return st
}

func (r *RoomRegistry) lookupSession(id domain.SessionID) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

func (r *RoomRegistry) markDepartedLocked(id domain.SessionID) {
	now := r.now()
	for d, at := range r.departed {
		if now.Sub(at) > departedTTL {
			delete(r.departed, d)
		}
	}
	r.departed[id] = now
}

func (r *RoomRegistry) now() time.Time {
	if r.cfg.Match.Clock != nil {
		return r.cfg.Match.Clock.Now()
	}
	return time.Now()
}
