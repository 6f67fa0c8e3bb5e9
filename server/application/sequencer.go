package application

import (
	"math/rand/v2"
)

// PieceSequencer はルーム内で共有されるピース列を生成します。
// 7種を1バッグとしてシャッフルし、使い切ってから次のバッグを作ります。
// 列は一度生成したら変更されないため、Peek と Next は常に一致します。
//
// ルームのゴルーチンからのみ触る前提でロックは持ちません。
type PieceSequencer struct {
	rng *rand.Rand

	// seq[0] は絶対位置 base に対応する
	seq  []Shape
	base int

	feeds []*Feed
	own   *Feed
}

// NewPieceSequencer は src を乱数源とするシーケンサを生成します。nil の場合はランダムに初期化します。
func NewPieceSequencer(src rand.Source) *PieceSequencer {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &PieceSequencer{rng: rand.New(src)}
}

// Feed は保持している列の先頭から読む独立したカーソルを返します。
// プレイヤーごとに1つ持たせることで全員が同じ順序でピースを受け取ります。
func (s *PieceSequencer) Feed() *Feed {
	f := &Feed{seq: s, pos: s.base}
	s.feeds = append(s.feeds, f)
	return f
}

// Release はカーソルを登録解除します。以後そのカーソルは列の保持に寄与しません。
func (s *PieceSequencer) Release(f *Feed) {
	for i, x := range s.feeds {
		if x == f {
			s.feeds = append(s.feeds[:i], s.feeds[i+1:]...)
			break
		}
	}
	s.compact()
}

// Next はシーケンサ自身のカーソルから1つ取り出します。
func (s *PieceSequencer) Next() Shape { return s.ownFeed().Next() }

// Peek はシーケンサ自身のカーソルから n 個先読みします。
func (s *PieceSequencer) Peek(n int) []Shape { return s.ownFeed().Peek(n) }

// ownFeed は初回利用時に作るため、使わなければ先頭の切り捨てを妨げない
func (s *PieceSequencer) ownFeed() *Feed {
	if s.own == nil {
		s.own = s.Feed()
	}
	return s.own
}

func (s *PieceSequencer) at(pos int) Shape {
	for pos-s.base >= len(s.seq) {
		s.refill()
	}
	return s.seq[pos-s.base]
}

func (s *PieceSequencer) refill() {
	bag := AllShapes
	s.rng.Shuffle(len(bag), func(i, j int) { bag[i], bag[j] = bag[j], bag[i] })
	s.seq = append(s.seq, bag[:]...)
}

// compact は全カーソルが通過済みの先頭部分を捨てます。
func (s *PieceSequencer) compact() {
	if len(s.feeds) == 0 {
		return
	}
	low := s.feeds[0].pos
	for _, f := range s.feeds[1:] {
		low = min(low, f.pos)
	}
	drop := low - s.base
	if drop < compactThreshold || drop > len(s.seq) {
		return
	}
	s.seq = append(s.seq[:0], s.seq[drop:]...)
	s.base = low
}

// 先頭を捨てるのはこの数以上たまってから
const compactThreshold = len(AllShapes) * 4

// Feed は PieceSequencer 上の読み取りカーソルです。
type Feed struct {
	seq *PieceSequencer
	pos int
}

func (f *Feed) Next() Shape {
	shape := f.seq.at(f.pos)
	f.pos++
	f.seq.compact()
	return shape
}

func (f *Feed) Peek(n int) []Shape {
	if n <= 0 {
		return nil
	}
	out := make([]Shape, n)
	for i := range out {
		out[i] = f.seq.at(f.pos + i)
	}
	return out
}

// Drawn はこれまでに取り出した個数です。
func (f *Feed) Drawn() int { return f.pos }
