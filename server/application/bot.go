package application

// BotController はボットの意思決定インターフェースです。
// 自分の盤面の tickState を受け取り、送るべき操作を返します。
type BotController interface {
	Decide(view BoardView) []Direction
}

// Placement はピースを置く回転と列です。
type Placement struct {
	Rotation int
	X        int
	Score    float64
}
