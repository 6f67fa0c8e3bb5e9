package application

import "blockfall/server/domain"

// RoomStatus はルームの状態です。
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusInGame   RoomStatus = "in-game"
	StatusGameOver RoomStatus = "game-over"
)

// Outcome は試合結果です。未確定の間は空です。
type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
)

// PlayerStatus はロビー表示用のプレイヤー状態です。
type PlayerStatus string

const (
	PlayerWaiting    PlayerStatus = "waiting"
	PlayerPlaying    PlayerStatus = "playing"
	PlayerLost       PlayerStatus = "lost"
	PlayerSpectating PlayerStatus = "spectating"
)

type PlayerInfo struct {
	ID      domain.SessionID `json:"id"`
	Name    string           `json:"name"`
	Owner   bool             `json:"owner"`
	Status  PlayerStatus     `json:"status"`
	Outcome Outcome          `json:"outcome,omitempty"`
}

type RoomUpdatedEvent struct {
	RoomName string           `json:"roomName"`
	Players  []PlayerInfo     `json:"players"`
	Owner    domain.SessionID `json:"owner"`
	Mode     Mode             `json:"mode"`
	Status   RoomStatus       `json:"status"`
	Solo     bool             `json:"solo"`
}

// JoinedEvent は参加者本人にだけ送られます。
type JoinedEvent struct {
	RoomUpdatedEvent
	You domain.SessionID `json:"you"`
}

type GameStartedEvent struct {
	Mode     Mode                         `json:"mode"`
	Players  []PlayerInfo                 `json:"players"`
	Previews map[domain.SessionID][]Shape `json:"previews"`
}

// PieceView は落下中のピースです。Cells と Y は可視領域基準で、隠し行は負になります。
type PieceView struct {
	Seq      int     `json:"seq"`
	Shape    Shape   `json:"shape"`
	Color    string  `json:"color"`
	Rotation int     `json:"rotation"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Cells    []Point `json:"cells"`
}

// BoardView は受信者ごとに切り出した1盤面です。相手の盤面は Specter のみです。
type BoardView struct {
	PlayerID       domain.SessionID `json:"playerId"`
	Name           string           `json:"name"`
	Status         PlayerStatus     `json:"status"`
	Score          int              `json:"score"`
	Lines          int              `json:"lines"`
	PendingGarbage int              `json:"pendingGarbage"`
	Specter        []int            `json:"specter"`
	Grid           []string         `json:"grid,omitempty"`
	Current        *PieceView       `json:"currentPiece,omitempty"`
	Next           []Shape          `json:"nextPieces,omitempty"`
}

type TickStateEvent struct {
	Tick      uint64      `json:"tick"`
	PerPlayer []BoardView `json:"perPlayer"`
}

type PlayerOutcome struct {
	ID      domain.SessionID `json:"id"`
	Name    string           `json:"name"`
	Outcome Outcome          `json:"outcome"`
	Score   int              `json:"score"`
	Lines   int              `json:"lines"`
}

type OutcomeEvent struct {
	WinnerID  *domain.SessionID `json:"winnerId"`
	Solo      bool              `json:"solo"`
	PerPlayer []PlayerOutcome   `json:"perPlayer"`
}

type RoomClosedEvent struct {
	RoomName string `json:"roomName"`
	Reason   string `json:"reason"`
}
