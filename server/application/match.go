package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"blockfall/server/domain"

	"github.com/google/uuid"
)

const (
	MultiplayerCapacity = 4
	SoloCapacity        = 1

	DefaultPreviewSize  = 3
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultResultLinger = 3 * time.Second
)

// MatchConfig はルームごとの試合設定です。
type MatchConfig struct {
	GravityTicks int
	PreviewSize  int
	IdleTimeout  time.Duration
	ResultLinger time.Duration

	Clock Clock
	// Seed が0以外なら、ピース列とモーフの抽選が再現可能になる
	Seed uint64
	// GarbageHole はおじゃまの穴の列。nil ならランダム
	GarbageHole func() int
}

func (c MatchConfig) withDefaults() MatchConfig {
	if c.GravityTicks <= 0 {
		c.GravityTicks = DefaultGravityTicks
	}
	if c.PreviewSize <= 0 {
		c.PreviewSize = DefaultPreviewSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ResultLinger < 0 {
		c.ResultLinger = 0
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// Player はルーム内の参加者です。盤面は試合開始ごとに作り直されます。
type Player struct {
	ID         domain.SessionID
	Name       string
	Owner      bool
	Board      *BoardSimulator
	Outcome    Outcome
	HasLost    bool
	Spectating bool

	feed *Feed
}

// Match は1ルーム分の状態機械です。waiting -> in-game -> game-over と遷移します。
// すべてのメソッドはルームのゴルーチン上から呼び出される前提です。
type Match struct {
	name     string
	solo     bool
	mode     Mode
	status   RoomStatus
	players  []*Player
	capacity int

	rules      Ruleset
	seq        *PieceSequencer
	router     *GarbageRouter
	contenders int
	tick       uint64

	outbox domain.Outbox
	sink   RecordSink
	cfg    MatchConfig

	lastActivity time.Time
	endedAt      time.Time
	closed       bool
	onClose      func(ctx context.Context)
}

var _ domain.Application = (*Match)(nil)

func NewMatch(name string, mode Mode, solo bool, outbox domain.Outbox, sink RecordSink, cfg MatchConfig) *Match {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = DiscardSink{}
	}
	capacity := MultiplayerCapacity
	if solo {
		capacity = SoloCapacity
	}
	return &Match{
		name:         name,
		solo:         solo,
		mode:         mode,
		status:       StatusWaiting,
		capacity:     capacity,
		outbox:       outbox,
		sink:         sink,
		cfg:          cfg,
		lastActivity: cfg.Clock.Now(),
	}
}

// OnClose はルームが閉じたとき (最後の1人が抜けた、または放置された) に1度だけ呼ばれます。
func (m *Match) OnClose(fn func(ctx context.Context)) {
	m.onClose = fn
}

func (m *Match) Name() string       { return m.name }
func (m *Match) Mode() Mode         { return m.mode }
func (m *Match) Solo() bool         { return m.solo }
func (m *Match) Status() RoomStatus { return m.status }
func (m *Match) Closed() bool       { return m.closed }
func (m *Match) Capacity() int      { return m.capacity }

// Owner は現在のオーナーです。空のルームでは空文字です。
func (m *Match) Owner() domain.SessionID {
	for _, p := range m.players {
		if p.Owner {
			return p.ID
		}
	}
	return ""
}

// Players はロビー表示用のプレイヤー一覧を参加順で返します。
func (m *Match) Players() []PlayerInfo {
	out := make([]PlayerInfo, len(m.players))
	for i, p := range m.players {
		out[i] = PlayerInfo{
			ID:      p.ID,
			Name:    p.Name,
			Owner:   p.Owner,
			Status:  m.playerStatus(p),
			Outcome: p.Outcome,
		}
	}
	return out
}

// Player はIDで参加者を探します。
func (m *Match) Player(id domain.SessionID) (*Player, bool) {
	i := m.index(id)
	if i < 0 {
		return nil, false
	}
	return m.players[i], true
}

func (m *Match) index(id domain.SessionID) int {
	return slices.IndexFunc(m.players, func(p *Player) bool { return p.ID == id })
}

// Join は参加者を追加します。待機中かつ定員未満の場合のみ成功します。
func (m *Match) Join(ctx context.Context, id domain.SessionID, name string) error {
	if m.closed {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, m.name)
	}
	if _, ok := m.Player(id); ok {
		m.outbox.SendTo(ctx, id, m.joinedMessage(id))
		return nil
	}
	if m.status != StatusWaiting {
		return fmt.Errorf("%w: %s is %s", ErrRoomFull, m.name, m.status)
	}
	if len(m.players) >= m.capacity {
		return fmt.Errorf("%w: %s has %d/%d players", ErrRoomFull, m.name, len(m.players), m.capacity)
	}

	m.players = append(m.players, &Player{
		ID:    id,
		Name:  name,
		Owner: len(m.players) == 0,
	})
	m.outbox.Attach(id)
	m.touch()

	slog.InfoContext(ctx, "player joined", "roomName", m.name, "sessionID", id, "players", len(m.players))
	m.outbox.SendTo(ctx, id, m.joinedMessage(id))
	m.broadcastRoom(ctx)
	return nil
}

// Leave は参加者を取り除きます。オーナーが抜けた場合は次に古い参加者へ移譲します。
// 最後の1人が抜けるとルームは閉じ、以後の参加は ErrRoomNotFound になります。
func (m *Match) Leave(ctx context.Context, id domain.SessionID) error {
	i := m.index(id)
	if i < 0 {
		return ErrNotInRoom
	}
	p := m.players[i]
	m.players = slices.Delete(m.players, i, i+1)
	m.outbox.Detach(id)
	m.releaseBoard(p)
	if p.Owner && len(m.players) > 0 {
		m.players[0].Owner = true
	}
	m.touch()

	slog.InfoContext(ctx, "player left", "roomName", m.name, "sessionID", id, "players", len(m.players))
	if len(m.players) == 0 {
		m.close(ctx)
		return nil
	}
	if m.status == StatusInGame {
		m.evaluate(ctx)
	}
	m.broadcastRoom(ctx)
	return nil
}

// ChangeMode はオーナーだけが実行できます。現在と同じモードなら何もしません。
func (m *Match) ChangeMode(ctx context.Context, id domain.SessionID, name string) error {
	p, ok := m.Player(id)
	if !ok {
		return ErrNotInRoom
	}
	if !p.Owner {
		return ErrNotOwner
	}
	mode, err := ParseMode(name)
	if err != nil {
		return err
	}
	if mode == m.mode {
		return nil
	}
	if m.status == StatusInGame {
		return ErrAlreadyInGame
	}
	m.mode = mode
	m.touch()
	slog.InfoContext(ctx, "mode changed", "roomName", m.name, "mode", mode)
	m.broadcastRoom(ctx)
	return nil
}

// Start は試合を開始します。ソロ以外ではオーナーのみ実行できます。
func (m *Match) Start(ctx context.Context, id domain.SessionID) error {
	p, ok := m.Player(id)
	if !ok {
		return ErrNotInRoom
	}
	if !p.Owner && !m.solo {
		return ErrNotOwner
	}
	if m.status != StatusWaiting {
		return ErrAlreadyInGame
	}

	m.rules = m.mode.Ruleset()
	m.seq = NewPieceSequencer(m.source(0))
	m.router = NewGarbageRouter(m.cfg.GarbageHole)
	m.tick = 0
	m.contenders = len(m.players)

	previews := make(map[domain.SessionID][]Shape, len(m.players))
	for i, p := range m.players {
		p.Outcome = OutcomeNone
		p.HasLost = false
		p.Spectating = false
		p.feed = m.seq.Feed()
		m.router.Register(p.ID)
		p.Board = NewBoardSimulator(p.ID, m.rules, p.feed, m.router, BoardConfig{
			GravityTicks: m.cfg.GravityTicks,
			Rand:         m.rand(uint64(i) + 1),
		})
		previews[p.ID] = p.feed.Peek(m.cfg.PreviewSize)
	}
	m.status = StatusInGame
	m.touch()

	slog.InfoContext(ctx, "match started", "roomName", m.name, "mode", m.mode, "players", len(m.players), "solo", m.solo)
	m.outbox.Broadcast(ctx, domain.MustEncode(domain.MsgGameStarted, GameStartedEvent{
		Mode:     m.mode,
		Players:  m.Players(),
		Previews: previews,
	}))
	m.broadcastRoom(ctx)
	return nil
}

// Move は呼び出し元自身の盤面に操作を適用します。
// 無効な操作は盤面を変えず、現在の状態を本人に送り直します。
func (m *Match) Move(ctx context.Context, id domain.SessionID, direction string) error {
	p, ok := m.Player(id)
	if !ok {
		return ErrNotInRoom
	}
	dir, err := ParseDirection(direction)
	if err == nil {
		if m.status != StatusInGame || p.Board == nil || p.HasLost {
			err = fmt.Errorf("%w: not playing", ErrInvalidMove)
		} else {
			var ev *LineClearEvent
			ev, err = p.Board.Move(dir)
			if ev != nil {
				m.router.OnLineClear(*ev)
			}
		}
	}
	if errors.Is(err, ErrInvalidMove) && m.status == StatusInGame {
		m.sendState(ctx, p)
	}
	return err
}

// Spectate はトップアウト済みのプレイヤーを観戦者にします。
func (m *Match) Spectate(ctx context.Context, id domain.SessionID) error {
	p, ok := m.Player(id)
	if !ok {
		return ErrNotInRoom
	}
	if m.status != StatusInGame || !p.HasLost {
		return ErrSpectateNotAllowed
	}
	if p.Spectating {
		return nil
	}
	p.Spectating = true
	m.broadcastRoom(ctx)
	return nil
}

// Tick はルームの固定周期処理です。返すエラーはそのルームの試合を中断させます。
func (m *Match) Tick(ctx context.Context) error {
	if m.closed {
		return nil
	}
	now := m.cfg.Clock.Now()
	switch m.status {
	case StatusWaiting:
		if now.Sub(m.lastActivity) >= m.cfg.IdleTimeout {
			slog.InfoContext(ctx, "closing idle room", "roomName", m.name, "idle", now.Sub(m.lastActivity))
			m.outbox.Broadcast(ctx, domain.MustEncode(domain.MsgRoomClosed, RoomClosedEvent{
				RoomName: m.name,
				Reason:   "idle",
			}))
			m.close(ctx)
		}
	case StatusGameOver:
		if now.Sub(m.endedAt) >= m.cfg.ResultLinger {
			m.reset(ctx)
		}
	case StatusInGame:
		return m.step(ctx)
	}
	return nil
}

// Abort は盤面の不整合などで試合を続けられない場合に、残りの全員を負けとして終了させます。
func (m *Match) Abort(ctx context.Context, cause error) {
	slog.ErrorContext(ctx, "match aborted", "roomName", m.name, "status", m.status, "err", cause)
	if m.status != StatusInGame {
		return
	}
	for _, p := range m.players {
		p.HasLost = true
	}
	m.finish(ctx, nil)
}

func (m *Match) step(ctx context.Context) error {
	m.tick++
	for _, p := range m.players {
		if p.Board == nil || p.HasLost {
			continue
		}
		ev, err := p.Board.Tick(m.tick)
		if err != nil {
			return fmt.Errorf("room %s player %s: %w", m.name, p.ID, err)
		}
		if ev != nil {
			m.router.OnLineClear(*ev)
		}
	}
	for _, p := range m.players {
		if p.Board != nil && !p.HasLost && p.Board.ToppedOut() {
			p.HasLost = true
			m.router.Unregister(p.ID)
			slog.DebugContext(ctx, "player topped out", "roomName", m.name, "sessionID", p.ID, "score", p.Board.Score())
		}
	}
	m.broadcastState(ctx)
	m.evaluate(ctx)
	return nil
}

// evaluate は終了条件を判定します。
// 複数人で始めた試合は残り1人で勝者確定、全員同時なら勝者なし。
// 1人で始めた試合はその1人がトップアウトした時点で終了します。
func (m *Match) evaluate(ctx context.Context) {
	if m.status != StatusInGame {
		return
	}
	var active []*Player
	for _, p := range m.players {
		if !p.HasLost {
			active = append(active, p)
		}
	}
	if m.solo || m.contenders <= 1 {
		if len(active) == 0 {
			m.finish(ctx, nil)
		}
		return
	}
	switch len(active) {
	case 0:
		m.finish(ctx, nil)
	case 1:
		m.finish(ctx, active[0])
	}
}

func (m *Match) finish(ctx context.Context, winner *Player) {
	now := m.cfg.Clock.Now()
	m.status = StatusGameOver
	m.endedAt = now

	ev := OutcomeEvent{Solo: m.solo, PerPlayer: make([]PlayerOutcome, 0, len(m.players))}
	record := MatchRecord{
		ID:           uuid.NewString(),
		RoomName:     m.name,
		Mode:         m.mode,
		Solo:         m.solo,
		Participants: make([]ParticipantRecord, 0, len(m.players)),
		EndedAt:      now,
	}
	if winner != nil {
		id := winner.ID
		ev.WinnerID = &id
		record.Winner = &id
	}
	for _, p := range m.players {
		p.Outcome = OutcomeLose
		if p == winner {
			p.Outcome = OutcomeWin
		}
		var score, lines int
		if p.Board != nil {
			score, lines = p.Board.Score(), p.Board.Lines()
		}
		ev.PerPlayer = append(ev.PerPlayer, PlayerOutcome{ID: p.ID, Name: p.Name, Outcome: p.Outcome, Score: score, Lines: lines})
		record.Participants = append(record.Participants, ParticipantRecord{
			ID:           p.ID,
			Name:         p.Name,
			Score:        score,
			Outcome:      p.Outcome,
			LinesCleared: lines,
		})
	}

	slog.InfoContext(ctx, "match finished", "roomName", m.name, "winner", ev.WinnerID != nil, "ticks", m.tick)
	m.outbox.Broadcast(ctx, domain.MustEncode(domain.MsgOutcome, ev))
	if err := m.sink.Record(ctx, record); err != nil {
		slog.WarnContext(ctx, "failed to record match", "roomName", m.name, "err", err)
	}
	m.broadcastRoom(ctx)
}

// reset は結果表示の後にルームを待機状態へ戻します。
func (m *Match) reset(ctx context.Context) {
	for _, p := range m.players {
		m.releaseBoard(p)
		p.Outcome = OutcomeNone
		p.HasLost = false
		p.Spectating = false
	}
	m.seq = nil
	m.router = nil
	m.status = StatusWaiting
	m.touch()
	m.broadcastRoom(ctx)
}

func (m *Match) releaseBoard(p *Player) {
	if m.router != nil {
		m.router.Unregister(p.ID)
	}
	if m.seq != nil && p.feed != nil {
		m.seq.Release(p.feed)
	}
	p.feed = nil
	p.Board = nil
}

func (m *Match) close(ctx context.Context) {
	if m.closed {
		return
	}
	m.closed = true
	for _, p := range m.players {
		m.outbox.Detach(p.ID)
	}
	if m.onClose != nil {
		m.onClose(ctx)
	}
}

func (m *Match) touch() {
	m.lastActivity = m.cfg.Clock.Now()
}

func (m *Match) source(stream uint64) rand.Source {
	if m.cfg.Seed == 0 {
		return nil
	}
	return rand.NewPCG(m.cfg.Seed, stream)
}

func (m *Match) rand(stream uint64) *rand.Rand {
	src := m.source(stream)
	if src == nil {
		return nil
	}
	return rand.New(src)
}

func (m *Match) playerStatus(p *Player) PlayerStatus {
	switch {
	case m.status == StatusWaiting:
		return PlayerWaiting
	case p.Spectating:
		return PlayerSpectating
	case p.HasLost:
		return PlayerLost
	default:
		return PlayerPlaying
	}
}

// RoomState は roomUpdated として配信する内容です。
func (m *Match) RoomState() RoomUpdatedEvent {
	return RoomUpdatedEvent{
		RoomName: m.name,
		Players:  m.Players(),
		Owner:    m.Owner(),
		Mode:     m.mode,
		Status:   m.status,
		Solo:     m.solo,
	}
}

func (m *Match) joinedMessage(id domain.SessionID) []byte {
	return domain.MustEncode(domain.MsgJoined, JoinedEvent{RoomUpdatedEvent: m.RoomState(), You: id})
}

func (m *Match) broadcastRoom(ctx context.Context) {
	m.outbox.Broadcast(ctx, domain.MustEncode(domain.MsgRoomUpdated, m.RoomState()))
}

func (m *Match) broadcastState(ctx context.Context) {
	for _, p := range m.players {
		m.sendState(ctx, p)
	}
}

// sendState は受信者に合わせた tickState を送ります。
// 自分の盤面と観戦中の全盤面は詳細、他人の盤面はスペクターのみです。
func (m *Match) sendState(ctx context.Context, recipient *Player) {
	m.outbox.SendTo(ctx, recipient.ID, domain.MustEncode(domain.MsgTickState, m.StateFor(recipient.ID)))
}

// StateFor は指定した受信者から見える盤面一覧です。
func (m *Match) StateFor(recipient domain.SessionID) TickStateEvent {
	ev := TickStateEvent{Tick: m.tick, PerPlayer: make([]BoardView, 0, len(m.players))}
	var spectating bool
	if r, ok := m.Player(recipient); ok {
		spectating = r.Spectating
	}
	for _, p := range m.players {
		if p.Board == nil {
			continue
		}
		ev.PerPlayer = append(ev.PerPlayer, m.view(p, spectating || p.ID == recipient))
	}
	return ev
}

func (m *Match) view(p *Player, full bool) BoardView {
	b := p.Board
	v := BoardView{
		PlayerID: p.ID,
		Name:     p.Name,
		Status:   m.playerStatus(p),
		Score:    b.Score(),
		Lines:    b.Lines(),
		Specter:  b.Specter(),
	}
	if m.router != nil {
		v.PendingGarbage = m.router.Pending(p.ID)
	}
	if !full {
		return v
	}
	v.Grid = b.Rows()
	v.Next = b.Preview(m.cfg.PreviewSize)
	if piece, ok := b.Current(); ok && !m.rules.HiddenWhileFalling {
		v.Current = newPieceView(piece, b.PieceCount())
	}
	return v
}

func newPieceView(p Piece, seq int) *PieceView {
	cells := p.Cells()
	view := &PieceView{
		Seq:      seq,
		Shape:    p.Shape,
		Color:    p.Shape.Color(),
		Rotation: p.Rotation,
		X:        p.X,
		Y:        p.Y - HiddenRows,
		Cells:    make([]Point, len(cells)),
	}
	for i, c := range cells {
		view.Cells[i] = Point{X: c.X, Y: c.Y - HiddenRows}
	}
	return view
}
