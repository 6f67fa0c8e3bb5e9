package application

import (
	"math"
	"math/rand/v2"
)

// 評価関数の基準重み
const (
	baseHeightWeight = 0.51
	baseLinesWeight  = 0.76
	baseHolesWeight  = 0.36
	baseBumpWeight   = 0.18
	weightJitter     = 0.15 // ±15%
)

// RuleBotController は全回転・全列を試して評価値が最大の位置に落とすボットAIです。
// ボットごとに少しずつ異なる重みを持ちます。
type RuleBotController struct {
	HeightWeight float64 // 高さの合計
	LinesWeight  float64 // 消去行数
	HolesWeight  float64 // 穴の数
	BumpWeight   float64 // 隣接列の高低差

	lastSeq int
}

// NewRuleBotController はランダムな個性を持つボットAIを生成します。
func NewRuleBotController() *RuleBotController {
	return &RuleBotController{
		HeightWeight: jitter(baseHeightWeight),
		LinesWeight:  jitter(baseLinesWeight),
		HolesWeight:  jitter(baseHolesWeight),
		BumpWeight:   jitter(baseBumpWeight),
	}
}

// Decide は新しいピースを見たときだけ操作列を返します。同じピースには一度しか反応しません。
func (r *RuleBotController) Decide(view BoardView) []Direction {
	cur := view.Current
	if cur == nil || cur.Seq == r.lastSeq {
		return nil
	}
	r.lastSeq = cur.Seq

	grid := parseBotGrid(view.Grid)
	start := Piece{Shape: cur.Shape, Rotation: cur.Rotation, X: cur.X, Y: cur.Y + HiddenRows}
	best, ok := r.Plan(grid, start)
	if !ok {
		return []Direction{MoveDrop}
	}
	return movesTo(start, best)
}

// Plan は置ける位置のうち評価値が最大のものを返します。
func (r *RuleBotController) Plan(grid botGrid, start Piece) (Placement, bool) {
	best := Placement{Score: math.Inf(-1)}
	found := false
	for rot := range 4 {
		for x := -3; x < BoardWidth; x++ {
			p := Piece{Shape: start.Shape, Rotation: rot, X: x, Y: start.Y}
			if grid.collides(p) {
				continue
			}
			for !grid.collides(p.Moved(0, 1)) {
				p = p.Moved(0, 1)
			}
			score := r.evaluate(grid.place(p))
			if score > best.Score {
				best = Placement{Rotation: rot, X: x, Score: score}
				found = true
			}
		}
	}
	return best, found
}

func (r *RuleBotController) evaluate(g botGrid, lines int) float64 {
	heights := g.heights()
	var agg, bump int
	for x, h := range heights {
		agg += h
		if x > 0 {
			bump += abs(h - heights[x-1])
		}
	}
	return -r.HeightWeight*float64(agg) +
		r.LinesWeight*float64(lines) -
		r.HolesWeight*float64(g.holes()) -
		r.BumpWeight*float64(bump)
}

// movesTo は回転、横移動、ハードドロップの順の操作列を作ります。
func movesTo(from Piece, to Placement) []Direction {
	var moves []Direction
	for range (to.Rotation - from.Rotation + 4) % 4 {
		moves = append(moves, MoveRotate)
	}
	dx := to.X - from.X
	for ; dx < 0; dx++ {
		moves = append(moves, MoveLeft)
	}
	for ; dx > 0; dx-- {
		moves = append(moves, MoveRight)
	}
	return append(moves, MoveDrop)
}

// botGrid はボットが読む盤面です。隠し行を含みます。
type botGrid [][]bool

// parseBotGrid は配信された可視行を読み取り、上に空の隠し行を足します。
func parseBotGrid(rows []string) botGrid {
	g := make(botGrid, HiddenRows+BoardHeight)
	for y := range g {
		g[y] = make([]bool, BoardWidth)
	}
	for i, row := range rows {
		y := HiddenRows + i
		if y >= len(g) {
			break
		}
		for x := 0; x < len(row) && x < BoardWidth; x++ {
			g[y][x] = row[x] != '.'
		}
	}
	return g
}

func (g botGrid) collides(p Piece) bool {
	for _, c := range p.Cells() {
		if c.X < 0 || c.X >= BoardWidth || c.Y < 0 || c.Y >= len(g) || g[c.Y][c.X] {
			return true
		}
	}
	return false
}

// place はピースを置いて揃った行を消した盤面と消去行数を返します。
func (g botGrid) place(p Piece) (botGrid, int) {
	out := make(botGrid, 0, len(g))
	next := make(botGrid, len(g))
	for y, row := range g {
		next[y] = append([]bool(nil), row...)
	}
	for _, c := range p.Cells() {
		next[c.Y][c.X] = true
	}
	lines := 0
	for _, row := range next {
		full := true
		for _, v := range row {
			full = full && v
		}
		if full {
			lines++
			continue
		}
		out = append(out, row)
	}
	for range lines {
		out = append(botGrid{make([]bool, BoardWidth)}, out...)
	}
	return out, lines
}

func (g botGrid) heights() []int {
	h := make([]int, BoardWidth)
	for x := range BoardWidth {
		for y := range g {
			if g[y][x] {
				h[x] = len(g) - y
				break
			}
		}
	}
	return h
}

func (g botGrid) holes() int {
	n := 0
	for x := range BoardWidth {
		covered := false
		for y := range g {
			if g[y][x] {
				covered = true
			} else if covered {
				n++
			}
		}
	}
	return n
}

func jitter(base float64) float64 {
	return base * (1 + (rand.Float64()*2-1)*weightJitter)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
