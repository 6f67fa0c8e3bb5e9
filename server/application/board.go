package application

import (
	"fmt"
	"math/rand/v2"

	"blockfall/server/domain"
)

const (
	BoardWidth  = 10
	BoardHeight = 20
	// HiddenRows は可視領域の上にあるスポーン用の行数
	HiddenRows  = 2
	SpawnColumn = 3

	// DefaultGravityTicks は等倍速で1段落ちるのに必要なtick数
	DefaultGravityTicks = 20
)

// lineScores[n] は同時にn列消したときの得点
var lineScores = [...]int{0, 100, 300, 500, 800}

// Cell は盤面の1マスです。色は値から導出するため、塗りと色が食い違うことはありません。
type Cell uint8

const (
	CellEmpty   Cell = 0
	CellGarbage Cell = Cell(shapeCount) + 1
)

func shapeCell(s Shape) Cell { return Cell(s) + 1 }

func (c Cell) Filled() bool { return c != CellEmpty }

func (c Cell) Color() string {
	switch {
	case c == CellEmpty:
		return ""
	case c == CellGarbage:
		return "gray"
	default:
		return Shape(c - 1).Color()
	}
}

// glyph は配信用の1文字表現です。空きは '.'、おじゃまは 'G'
func (c Cell) glyph() byte {
	switch {
	case c == CellEmpty:
		return '.'
	case c == CellGarbage:
		return 'G'
	default:
		return shapeNames[c-1][0]
	}
}

// BoardState はプレイヤー盤面の状態です。
type BoardState uint8

const (
	BoardSpawning BoardState = iota
	BoardFalling
	BoardLocking
	BoardToppedOut
)

func (s BoardState) String() string {
	switch s {
	case BoardSpawning:
		return "spawning"
	case BoardFalling:
		return "falling"
	case BoardLocking:
		return "locking"
	case BoardToppedOut:
		return "topped-out"
	default:
		return fmt.Sprintf("BoardState(%d)", uint8(s))
	}
}

// Direction はプレイヤーの操作です。
type Direction string

const (
	MoveLeft   Direction = "left"
	MoveRight  Direction = "right"
	MoveDown   Direction = "down"
	MoveRotate Direction = "rotate"
	MoveDrop   Direction = "drop"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case MoveLeft, MoveRight, MoveDown, MoveRotate, MoveDrop:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidMove, s)
}

// LineClearEvent は1回の固定で消えた行です。Rows は可視領域の行番号です。
type LineClearEvent struct {
	PlayerID domain.SessionID
	Rows     []int
	Seq      uint64
	Tick     uint64
}

// GarbageEntry はおじゃま行1回分です。Hole 列だけが空きになります。
type GarbageEntry struct {
	Rows int
	Hole int
}

// GarbageSource はスポーン前に1件ずつおじゃまを取り出す先です。
type GarbageSource interface {
	Drain(playerID domain.SessionID) (GarbageEntry, bool)
}

type BoardConfig struct {
	GravityTicks int
	// Rand はモーフ時の形状抽選に使う。nil ならランダム
	Rand *rand.Rand
}

// BoardSimulator は1プレイヤー分の盤面です。
// spawning -> falling -> locking -> spawning と遷移し、スポーンできなければ topped-out で止まります。
type BoardSimulator struct {
	playerID     domain.SessionID
	rules        Ruleset
	feed         *Feed
	garbage      GarbageSource
	rng          *rand.Rand
	gravityTicks int

	cells   [][]Cell // [y][x]。y=0 は隠し行の最上段
	state   BoardState
	piece   Piece
	pieces  int
	gravity int

	score    int
	lines    int
	clearSeq uint64
	tick     uint64
}

func NewBoardSimulator(playerID domain.SessionID, rules Ruleset, feed *Feed, garbage GarbageSource, cfg BoardConfig) *BoardSimulator {
	if cfg.GravityTicks <= 0 {
		cfg.GravityTicks = DefaultGravityTicks
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if rules.GravityMultiplier <= 0 {
		rules.GravityMultiplier = 1
	}
	cells := make([][]Cell, HiddenRows+BoardHeight)
	for y := range cells {
		cells[y] = make([]Cell, BoardWidth)
	}
	return &BoardSimulator{
		playerID:     playerID,
		rules:        rules,
		feed:         feed,
		garbage:      garbage,
		rng:          cfg.Rand,
		gravityTicks: cfg.GravityTicks,
		cells:        cells,
		state:        BoardSpawning,
	}
}

func (b *BoardSimulator) PlayerID() domain.SessionID { return b.playerID }
func (b *BoardSimulator) State() BoardState          { return b.state }
func (b *BoardSimulator) ToppedOut() bool            { return b.state == BoardToppedOut }
func (b *BoardSimulator) Score() int                 { return b.score }
func (b *BoardSimulator) Lines() int                 { return b.lines }

// PieceCount はこれまでにスポーンしたピースの数です。
func (b *BoardSimulator) PieceCount() int { return b.pieces }

// Current は落下中のピースを返します。
func (b *BoardSimulator) Current() (Piece, bool) {
	if b.state != BoardFalling {
		return Piece{}, false
	}
	return b.piece, true
}

// Preview は次に来る n 個のピースです。
func (b *BoardSimulator) Preview(n int) []Shape {
	return b.feed.Peek(n)
}

// Tick は1tick分盤面を進めます。返すエラーは盤面の不整合のみです。
func (b *BoardSimulator) Tick(tick uint64) (*LineClearEvent, error) {
	b.tick = tick
	var ev *LineClearEvent
	switch b.state {
	case BoardToppedOut:
		return nil, nil
	case BoardSpawning, BoardLocking:
		b.spawn()
	case BoardFalling:
		b.gravity += b.rules.GravityMultiplier
		for b.state == BoardFalling && b.gravity >= b.gravityTicks {
			b.gravity -= b.gravityTicks
			ev = b.gravityStep()
		}
	}
	return ev, b.checkInvariants()
}

// Move は操作を即座に適用します。衝突する操作は ErrInvalidMove で、盤面は変わりません。
// 下方向が塞がっている場合の down と drop はピースを固定します。
func (b *BoardSimulator) Move(dir Direction) (*LineClearEvent, error) {
	switch b.state {
	case BoardFalling:
	case BoardToppedOut:
		return nil, fmt.Errorf("%w: %w", ErrInvalidMove, ErrTopOut)
	default:
		return nil, fmt.Errorf("%w: board is %s", ErrInvalidMove, b.state)
	}
	switch dir {
	case MoveLeft:
		return nil, b.try(b.piece.Moved(-1, 0))
	case MoveRight:
		return nil, b.try(b.piece.Moved(1, 0))
	case MoveRotate:
		return nil, b.try(b.piece.Rotated())
	case MoveDown:
		next := b.piece.Moved(0, 1)
		if b.collides(next) {
			return b.lock(), nil
		}
		b.piece = next
		return nil, nil
	case MoveDrop:
		for !b.collides(b.piece.Moved(0, 1)) {
			b.piece = b.piece.Moved(0, 1)
		}
		return b.lock(), nil
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidMove, dir)
	}
}

func (b *BoardSimulator) try(next Piece) error {
	if b.collides(next) {
		return ErrInvalidMove
	}
	b.piece = next
	return nil
}

func (b *BoardSimulator) spawn() {
	// おじゃまはスポーン直前に1件だけ取り込む
	if b.garbage != nil {
		if entry, ok := b.garbage.Drain(b.playerID); ok && !b.addGarbage(entry) {
			b.state = BoardToppedOut
			return
		}
	}
	p := Piece{Shape: b.feed.Next(), X: SpawnColumn, Y: 0}
	b.pieces++
	if b.collides(p) {
		b.state = BoardToppedOut
		return
	}
	b.piece = p
	b.state = BoardFalling
	b.gravity = 0
}

func (b *BoardSimulator) gravityStep() *LineClearEvent {
	if b.rules.Morphing {
		b.morph()
	}
	next := b.piece.Moved(0, 1)
	if b.collides(next) {
		return b.lock()
	}
	b.piece = next
	return nil
}

// morph は形状を別の種類に振り直します。振り直した形が重なる場合は元の形を維持します。
func (b *BoardSimulator) morph() {
	s := Shape(b.rng.IntN(int(shapeCount) - 1))
	if s >= b.piece.Shape {
		s++
	}
	cand := Piece{Shape: s, X: b.piece.X, Y: b.piece.Y}
	if !b.collides(cand) {
		b.piece = cand
	}
}

func (b *BoardSimulator) collides(p Piece) bool {
	for _, c := range p.Cells() {
		if c.X < 0 || c.X >= BoardWidth || c.Y < 0 || c.Y >= len(b.cells) {
			return true
		}
		if b.cells[c.Y][c.X].Filled() {
			return true
		}
	}
	return false
}

func (b *BoardSimulator) lock() *LineClearEvent {
	cell := shapeCell(b.piece.Shape)
	for _, c := range b.piece.Cells() {
		b.cells[c.Y][c.X] = cell
	}
	b.state = BoardLocking
	b.gravity = 0
	return b.clearLines()
}

// clearLines は埋まった行を一括で取り除き、1回のイベントとして採点します。
func (b *BoardSimulator) clearLines() *LineClearEvent {
	var cleared []int
	kept := make([][]Cell, 0, len(b.cells))
	for y, row := range b.cells {
		if rowFull(row) {
			cleared = append(cleared, y-HiddenRows)
			continue
		}
		kept = append(kept, row)
	}
	if len(cleared) == 0 {
		return nil
	}
	fresh := make([][]Cell, len(cleared), len(b.cells))
	for i := range fresh {
		fresh[i] = make([]Cell, BoardWidth)
	}
	b.cells = append(fresh, kept...)

	b.score += lineScores[min(len(cleared), len(lineScores)-1)]
	b.lines += len(cleared)
	b.clearSeq++
	return &LineClearEvent{
		PlayerID: b.playerID,
		Rows:     cleared,
		Seq:      b.clearSeq,
		Tick:     b.tick,
	}
}

// addGarbage は底におじゃま行を積み上げます。最上段から押し出されるブロックがあれば false です。
func (b *BoardSimulator) addGarbage(e GarbageEntry) bool {
	n := min(e.Rows, len(b.cells))
	if n <= 0 {
		return true
	}
	for _, row := range b.cells[:n] {
		for _, c := range row {
			if c.Filled() {
				return false
			}
		}
	}
	hole := ((e.Hole % BoardWidth) + BoardWidth) % BoardWidth
	rows := b.cells[n:]
	for range n {
		row := make([]Cell, BoardWidth)
		for x := range row {
			if x != hole {
				row[x] = CellGarbage
			}
		}
		rows = append(rows, row)
	}
	b.cells = rows
	return true
}

func (b *BoardSimulator) checkInvariants() error {
	if len(b.cells) != HiddenRows+BoardHeight {
		return fmt.Errorf("%w: grid has %d rows", ErrInvariant, len(b.cells))
	}
	for y, row := range b.cells {
		if len(row) != BoardWidth {
			return fmt.Errorf("%w: row %d has %d columns", ErrInvariant, y, len(row))
		}
		for x, c := range row {
			if c > CellGarbage {
				return fmt.Errorf("%w: cell (%d,%d) holds %d", ErrInvariant, x, y, c)
			}
		}
	}
	return nil
}

func rowFull(row []Cell) bool {
	for _, c := range row {
		if !c.Filled() {
			return false
		}
	}
	return true
}

// Rows は可視領域を1行1文字列で返します。
func (b *BoardSimulator) Rows() []string {
	out := make([]string, BoardHeight)
	buf := make([]byte, BoardWidth)
	for i, row := range b.cells[HiddenRows:] {
		for x, c := range row {
			buf[x] = c.glyph()
		}
		out[i] = string(buf)
	}
	return out
}

// Specter は列ごとの積み上がりの高さです。相手にはこれだけを見せます。
func (b *BoardSimulator) Specter() []int {
	heights := make([]int, BoardWidth)
	for x := range BoardWidth {
		for y, row := range b.cells {
			if row[x].Filled() {
				heights[x] = len(b.cells) - y
				break
			}
		}
	}
	return heights
}

// StackHeight は最も高い列の高さです。
func (b *BoardSimulator) StackHeight() int {
	h := 0
	for _, v := range b.Specter() {
		h = max(h, v)
	}
	return h
}

